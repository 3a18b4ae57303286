// Package imagesvctest runs an in-process ImageServer for tests.
package imagesvctest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

const Path = "/arcgis/rest/services/Test/ImageServer"

const DefaultDescribe = `{
  "name": "Test",
  "extent": {"xmin": 0, "ymin": 0, "xmax": 1000, "ymax": 1000,
             "spatialReference": {"wkid": 102100, "latestWkid": 3857}},
  "pixelType": "U8",
  "rasterFunctionInfos": [{"name": "Stretch"}, {"name": "None"}],
  "capabilities": "Image,Metadata,Catalog,Mensuration"
}`

const DefaultQuery = `{
  "objectIdFieldName": "OBJECTID",
  "fields": [
    {"name": "OBJECTID", "type": "esriFieldTypeOID", "alias": "OBJECTID"},
    {"name": "Name", "type": "esriFieldTypeString", "alias": "Name", "length": 50},
    {"name": "Category", "type": "esriFieldTypeInteger", "alias": "Category"},
    {"name": "AcquisitionDate", "type": "esriFieldTypeDate", "alias": "Acquired", "length": 8},
    {"name": "CloudCover", "type": "esriFieldTypeDouble", "alias": "Cloud Cover"},
    {"name": "Sensor", "type": "esriFieldTypeSmallInteger", "alias": "Sensor",
     "domain": {"type": "codedValue", "name": "SensorType",
                "codedValues": [{"name": "Aerial", "code": 1}, {"name": "Satellite", "code": 2}]}},
    {"name": "Shape_Length", "type": "esriFieldTypeDouble", "alias": "Shape_Length"},
    {"name": "Shape_Area", "type": "esriFieldTypeDouble", "alias": "Shape_Area"}
  ],
  "features": [
    {"attributes": {"OBJECTID": 1, "Name": "img1", "Category": 1, "AcquisitionDate": 1577836800000,
                    "CloudCover": 0.1, "Sensor": 1, "Shape_Length": 300, "Shape_Area": 5000},
     "geometry": {"rings": [[[0,0],[0,50],[100,50],[100,0],[0,0]]], "spatialReference": {"wkid": 102100}}},
    {"attributes": {"OBJECTID": 2, "Name": "img2", "Category": 1, "AcquisitionDate": null,
                    "CloudCover": 0.5, "Sensor": 2, "Shape_Length": 300, "Shape_Area": 5000},
     "geometry": {"rings": [[[50,0],[50,50],[150,50],[150,0],[50,0]]], "spatialReference": {"wkid": 102100}}}
  ]
}`

// Service serves describe, query, exportImage and the exported rasters.
// Bodies can be replaced before the first request.
type Service struct {
	*httptest.Server

	Describe string
	Query    string
	// Images maps a locked raster id to the bytes served for it. Missing
	// ids get a small placeholder payload.
	Images map[int64][]byte
	// AbsoluteHref makes exportImage return absolute hrefs.
	AbsoluteHref bool

	mu    sync.Mutex
	calls map[string]int
	forms map[string]url.Values
}

func New(t testing.TB) *Service {
	t.Helper()
	s := &Service{
		Describe: DefaultDescribe,
		Query:    DefaultQuery,
		Images:   map[int64][]byte{},
		calls:    map[string]int{},
		forms:    map[string]url.Values{},
	}

	r := chi.NewRouter()
	r.Get(Path, s.handleDescribe)
	r.Post(Path+"/query", s.handleQuery)
	r.Post(Path+"/exportImage", s.handleExport)
	r.Get(Path+"/output/{name}", s.handleOutput)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

func (s *Service) URL() string { return s.Server.URL + Path }

func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// LastForm returns the decoded parameters of the most recent op request.
func (s *Service) LastForm(op string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forms[op]
}

func (s *Service) record(op string, r *http.Request) {
	_ = r.ParseForm()
	s.mu.Lock()
	s.calls[op]++
	s.forms[op] = r.Form
	s.mu.Unlock()
}

func (s *Service) handleDescribe(w http.ResponseWriter, r *http.Request) {
	s.record("describe", r)
	writeJSON(w, s.Describe)
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	s.record("query", r)
	writeJSON(w, s.Query)
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	s.record("export", r)
	var rule struct {
		LockRasterIDs []int64 `json:"lockRasterIds"`
	}
	if err := json.Unmarshal([]byte(r.Form.Get("mosaicRule")), &rule); err != nil || len(rule.LockRasterIDs) == 0 {
		writeJSON(w, `{"error":{"code":400,"message":"Invalid mosaicRule","details":[]}}`)
		return
	}
	href := fmt.Sprintf("output/img%d.tif", rule.LockRasterIDs[0])
	if s.AbsoluteHref {
		href = s.URL() + "/" + href
	}
	body, _ := json.Marshal(map[string]any{"href": href, "width": 10, "height": 5})
	writeJSON(w, string(body))
}

func (s *Service) handleOutput(w http.ResponseWriter, r *http.Request) {
	s.record("fetch", r)
	name := chi.URLParam(r, "name")
	var id int64
	if _, err := fmt.Sscanf(name, "img%d.tif", &id); err != nil {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	b, ok := s.Images[id]
	s.mu.Unlock()
	if !ok {
		b = Placeholder(id)
	}
	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, _ = w.Write(b)
}

// Placeholder is the payload served for id when no image was registered.
func Placeholder(id int64) []byte {
	return []byte(fmt.Sprintf("II*\x00raster-%d", id))
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
