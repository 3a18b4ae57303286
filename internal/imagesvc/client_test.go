package imagesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/clipship/internal/cache"
	"github.com/mohammed-shakir/clipship/internal/geometry"
	"github.com/mohammed-shakir/clipship/internal/imagesvc/imagesvctest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, svc string, opts ...Option) *Client {
	t.Helper()
	c, err := New(quietLogger(), nil, svc, opts...)
	if err != nil {
		t.Fatalf("imagesvc.New: %v", err)
	}
	return c
}

func testAOI() geometry.AOI {
	return geometry.AOI{
		Geometry: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 50}}.ToPolygon(),
		WKID:     3857,
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"https://h/arcgis/rest/services/A/ImageServer", "https://h/arcgis/rest/services/A/ImageServer", false},
		{"https://h/arcgis/services/A/ImageServer/", "https://h/arcgis/rest/services/A/ImageServer", false},
		{" http://h/server/arcgis/services/A/ImageServer?f=json ", "http://h/server/arcgis/rest/services/A/ImageServer", false},
		{"ftp://h/arcgis/rest/services/A/ImageServer", "", true},
		{"https:///ImageServer", "", true},
	}
	for _, tc := range cases {
		u, err := NormalizeURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("NormalizeURL(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
		}
		if u.String() != tc.want {
			t.Fatalf("NormalizeURL(%q)=%q want %q", tc.in, u.String(), tc.want)
		}
	}
}

func TestIsImageServerURL(t *testing.T) {
	if !IsImageServerURL("HTTPS://h/arcgis/rest/services/A/imageserver") {
		t.Fatal("expected image server url")
	}
	for _, s := range []string{"https://h/arcgis/rest/services/A/MapServer", "C:/data/layer.lyrx", "h/ImageServer"} {
		if IsImageServerURL(s) {
			t.Fatalf("%q should not be accepted", s)
		}
	}
}

func TestDescribe_OK(t *testing.T) {
	svc := imagesvctest.New(t)
	d, err := newClient(t, svc.URL()).Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if d.SpatialReference.Code() != 102100 || d.PixelType != "U8" || d.DefaultRasterFunction != "Stretch" {
		t.Fatalf("descriptor=%+v", d)
	}
	if !d.HasCapability("catalog") {
		t.Fatalf("capabilities=%v", d.Capabilities)
	}
	if got := svc.LastForm("describe").Get("f"); got != "json" {
		t.Fatalf("f=%q", got)
	}
}

func TestDescribe_Failures(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"no pixel type", `{"extent":{"spatialReference":{"wkid":3857}},"rasterFunctionInfos":[{"name":"None"}]}`, ErrMissingKey},
		{"no extent", `{"pixelType":"U8","rasterFunctionInfos":[{"name":"None"}]}`, ErrMissingKey},
		{"no raster functions", `{"extent":{"spatialReference":{"wkid":3857}},"pixelType":"U8"}`, ErrMissingKey},
		{"not a mosaic", `{"extent":{"spatialReference":{"wkid":3857}},"pixelType":"U8",
			"rasterFunctionInfos":[{"name":"None"}],"capabilities":"Image,Metadata"}`, ErrNotMosaic},
		{"garbage", `<html>`, ErrDecode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := imagesvctest.New(t)
			svc.Describe = tc.body
			_, err := newClient(t, svc.URL()).Describe(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			var se *ServiceError
			if !errors.As(err, &se) || se.Op != "describe" {
				t.Fatalf("expected *ServiceError for describe, got %T", err)
			}
		})
	}
}

func TestDescribe_RemoteError(t *testing.T) {
	svc := imagesvctest.New(t)
	svc.Describe = `{"error":{"code":499,"message":"Token Required","details":["login"]}}`
	_, err := newClient(t, svc.URL()).Describe(context.Background())
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if re.Code != 499 || !strings.Contains(err.Error(), "Token Required") {
		t.Fatalf("remote error=%+v", re)
	}
	if !IsRemote(err) {
		t.Fatal("IsRemote=false")
	}
}

func TestDescribe_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL+imagesvctest.Path).Describe(context.Background())
	if !errors.Is(err, ErrTransport) || !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("err=%v", err)
	}

	srv.Close()
	_, err = newClient(t, srv.URL+imagesvctest.Path).Describe(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("closed server err=%v", err)
	}
}

func TestQuery_ParamsAndItems(t *testing.T) {
	svc := imagesvctest.New(t)
	c := newClient(t, svc.URL(), WithWhere("CATEGORY = 1 AND Year > 2019"))

	res, err := c.Query(context.Background(), testAOI())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	form := svc.LastForm("query")
	for k, want := range map[string]string{
		"where":          "CATEGORY = 1 AND Year > 2019",
		"geometryType":   "esriGeometryPolygon",
		"spatialRel":     "esriSpatialRelIntersects",
		"outFields":      "*",
		"returnGeometry": "true",
		"f":              "json",
	} {
		if got := form.Get(k); got != want {
			t.Fatalf("%s=%q want %q", k, got, want)
		}
	}
	var geom geometry.EsriPolygon
	if err := json.Unmarshal([]byte(form.Get("geometry")), &geom); err != nil {
		t.Fatalf("geometry param: %v", err)
	}
	if geom.SpatialReference == nil || geom.SpatialReference.WKID != 3857 || len(geom.Rings) != 1 {
		t.Fatalf("geometry param=%s", form.Get("geometry"))
	}

	if res.ObjectIDField != "OBJECTID" || len(res.Fields) != 8 || len(res.Items) != 2 {
		t.Fatalf("result: oid=%q fields=%d items=%d", res.ObjectIDField, len(res.Fields), len(res.Items))
	}
	it := res.Items[0]
	if it.ObjectID != 1 {
		t.Fatalf("object id=%d", it.ObjectID)
	}
	if _, ok := it.Attributes["AcquisitionDate"].(json.Number); !ok {
		t.Fatalf("date attribute type %T", it.Attributes["AcquisitionDate"])
	}
	if b := it.Footprint.Bound(); b.Max != (orb.Point{100, 50}) {
		t.Fatalf("footprint bound=%v", b)
	}
	if d := res.Fields[5].Domain; !d.IsCoded() || len(d.CodedValues) != 2 {
		t.Fatalf("domain=%+v", d)
	}
}

func TestQuery_DropsItemsWithoutFootprint(t *testing.T) {
	svc := imagesvctest.New(t)
	svc.Query = `{"fields":[{"name":"OID","type":"esriFieldTypeOID"}],
	  "features":[
	    {"attributes":{"OID":7},"geometry":{"rings":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}},
	    {"attributes":{"OID":8}},
	    {"attributes":{"OID":9},"geometry":{"rings":[]}},
	    {"attributes":{},"geometry":{"rings":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}}
	  ]}`
	res, err := newClient(t, svc.URL()).Query(context.Background(), testAOI())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.ObjectIDField != "OID" {
		t.Fatalf("oid field=%q", res.ObjectIDField)
	}
	if len(res.Items) != 1 || res.Items[0].ObjectID != 7 || res.Dropped != 3 {
		t.Fatalf("items=%d dropped=%d", len(res.Items), res.Dropped)
	}
}

func TestQuery_Cached(t *testing.T) {
	svc := imagesvctest.New(t)
	store := cache.NewTiered(quietLogger(), 8, nil, 0)
	c := newClient(t, svc.URL(), WithCache(store, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Describe(ctx); err != nil {
			t.Fatalf("Describe: %v", err)
		}
		if _, err := c.Query(ctx, testAOI()); err != nil {
			t.Fatalf("Query: %v", err)
		}
	}
	if svc.Calls("describe") != 1 || svc.Calls("query") != 1 {
		t.Fatalf("upstream calls describe=%d query=%d want 1 each", svc.Calls("describe"), svc.Calls("query"))
	}
}

func TestExportAndFetch(t *testing.T) {
	svc := imagesvctest.New(t)
	svc.Images[42] = []byte("tiff-bytes")
	c := newClient(t, svc.URL())
	ctx := context.Background()

	req := ExportRequest{
		ItemID:            42,
		BBox:              geometry.BoundingBox{XMin: 0, YMin: 0, XMax: 100, YMax: 50},
		Width:             10,
		Height:            5,
		SpatialReference:  geometry.SpatialReference{WKID: 102100, LatestWKID: 3857},
		PixelType:         "U8",
		RenderingFunction: "Stretch",
	}
	res, err := c.ExportImage(ctx, req)
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if res.Href != svc.URL()+"/output/img42.tif" {
		t.Fatalf("href=%q", res.Href)
	}

	form := svc.LastForm("export")
	for k, want := range map[string]string{
		"bbox":          "0,0,100,50",
		"size":          "10,5",
		"imageSR":       `{"wkid":102100}`,
		"bboxSR":        `{"wkid":102100}`,
		"format":        "tiff",
		"pixelType":     "U8",
		"mosaicRule":    `{"lockRasterIds":[42],"mosaicMethod":"esriMosaicLockRaster"}`,
		"renderingRule": `{"rasterFunction":"None"}`,
	} {
		if got := form.Get(k); got != want {
			t.Fatalf("%s=%q want %q", k, got, want)
		}
	}

	req.ApplyRendering = true
	if _, err := c.ExportImage(ctx, req); err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if got := svc.LastForm("export").Get("renderingRule"); got != `{"rasterFunction":"Stretch"}` {
		t.Fatalf("renderingRule=%q", got)
	}

	var buf bytes.Buffer
	n, err := c.Fetch(ctx, res.Href, &buf)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != int64(len("tiff-bytes")) || buf.String() != "tiff-bytes" {
		t.Fatalf("fetched %d bytes %q", n, buf.String())
	}

	if _, err := c.Fetch(ctx, "output/missing.tif", io.Discard); !errors.Is(err, ErrTransport) {
		t.Fatalf("missing raster err=%v", err)
	}
}

func TestExport_AbsoluteHref(t *testing.T) {
	svc := imagesvctest.New(t)
	svc.AbsoluteHref = true
	c := newClient(t, svc.URL())

	res, err := c.ExportImage(context.Background(), ExportRequest{ItemID: 3, Width: 1, Height: 1})
	if err != nil {
		t.Fatalf("ExportImage: %v", err)
	}
	if res.Href != svc.URL()+"/output/img3.tif" {
		t.Fatalf("href=%q", res.Href)
	}
	if got := svc.LastForm("export").Get("imageSR"); got != "" {
		t.Fatalf("imageSR=%q want unset without a spatial reference", got)
	}
}
