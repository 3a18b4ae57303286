package geometry

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// AOI is the area of interest polygon together with the coordinate system
// its vertices are expressed in.
type AOI struct {
	Geometry orb.Geometry
	WKID     int
}

func (a AOI) Bound() orb.Bound { return a.Geometry.Bound() }

// In returns the AOI reprojected to wkid.
func (a AOI) In(wkid int) (AOI, error) {
	g, err := Reproject(a.Geometry, a.WKID, wkid)
	if err != nil {
		return AOI{}, err
	}
	return AOI{Geometry: g, WKID: wkid}, nil
}

// Esri renders the AOI as an Esri JSON polygon carrying its spatial reference.
func (a AOI) Esri() (EsriPolygon, error) {
	return NewEsriPolygon(a.Geometry, a.WKID)
}

type geojsonHeader struct {
	Type string `json:"type"`
	CRS  *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// LoadAOI reads a GeoJSON FeatureCollection, Feature or bare geometry. The
// first polygonal geometry wins. A named "crs" member sets the wkid;
// documents without one are taken to be in defaultWKID.
func LoadAOI(path string, defaultWKID int) (AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AOI{}, fmt.Errorf("read aoi %s: %w", path, err)
	}
	return ParseAOI(data, defaultWKID)
}

func ParseAOI(data []byte, defaultWKID int) (AOI, error) {
	var hdr geojsonHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return AOI{}, fmt.Errorf("parse aoi: %w", err)
	}

	var g orb.Geometry
	switch hdr.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return AOI{}, fmt.Errorf("parse aoi: %w", err)
		}
		for _, f := range fc.Features {
			if isPolygonal(f.Geometry) {
				g = f.Geometry
				break
			}
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return AOI{}, fmt.Errorf("parse aoi: %w", err)
		}
		g = f.Geometry
	default:
		gg, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return AOI{}, fmt.Errorf("parse aoi: %w", err)
		}
		g = gg.Geometry()
	}

	if g == nil {
		return AOI{}, ErrEmptyGeometry
	}
	if !isPolygonal(g) {
		return AOI{}, fmt.Errorf("%w: got %s", ErrNotPolygon, g.GeoJSONType())
	}

	wkid := defaultWKID
	if hdr.CRS != nil {
		code, ok := ParseCRSName(hdr.CRS.Properties.Name)
		if !ok {
			return AOI{}, fmt.Errorf("%w: crs %q", ErrUnsupportedProjection, hdr.CRS.Properties.Name)
		}
		wkid = code
	}
	return AOI{Geometry: g, WKID: wkid}, nil
}

func isPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}

var epsgRe = regexp.MustCompile(`(?i)(?:EPSG|ESRI):+(\d+)$`)

// ParseCRSName understands "EPSG:3857", "ESRI:102748",
// "urn:ogc:def:crs:EPSG::3857" and the OGC CRS84 urn.
func ParseCRSName(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToUpper(name), "CRS84") {
		return WGS84, true
	}
	m := epsgRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Codes from 100000 up belong to the Esri authority.
const esriAuthorityMin = 100000

// CRSName formats wkid for a GeoJSON "crs" member or a GDAL -t_srs option.
func CRSName(wkid int) string {
	wkid = Canonical(wkid)
	if wkid >= esriAuthorityMin {
		return "ESRI:" + strconv.Itoa(wkid)
	}
	return "EPSG:" + strconv.Itoa(wkid)
}
