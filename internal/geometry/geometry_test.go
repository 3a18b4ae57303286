package geometry

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}.ToPolygon()
}

func TestBoundingBox_String(t *testing.T) {
	b := BoundingBox{XMin: 0, YMin: 0, XMax: 100, YMax: 50.5}
	if got := b.String(); got != "0,0,100,50.5" {
		t.Fatalf("String=%q", got)
	}
	if b.Degenerate() {
		t.Fatal("box with area reported degenerate")
	}
	if !(BoundingBox{XMin: 1, XMax: 1, YMax: 5}).Degenerate() {
		t.Fatal("zero-width box not degenerate")
	}
}

func TestParseAOI_FeatureCollectionWithCRS(t *testing.T) {
	doc := `{
	  "type": "FeatureCollection",
	  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::3857"}},
	  "features": [
	    {"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [1, 2]}},
	    {"type": "Feature", "properties": {}, "geometry": {"type": "Polygon",
	      "coordinates": [[[0,0],[100,0],[100,50],[0,50],[0,0]]]}}
	  ]
	}`
	aoi, err := ParseAOI([]byte(doc), WGS84)
	if err != nil {
		t.Fatalf("ParseAOI: %v", err)
	}
	if aoi.WKID != 3857 {
		t.Fatalf("wkid=%d want 3857", aoi.WKID)
	}
	if _, ok := aoi.Geometry.(orb.Polygon); !ok {
		t.Fatalf("geometry type %T", aoi.Geometry)
	}
	if got := aoi.Bound(); got.Max != (orb.Point{100, 50}) {
		t.Fatalf("bound=%v", got)
	}
}

func TestLoadAOI_BareGeometryDefaultsWKID(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "aoi.geojson")
	doc := `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]]]}`
	if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	aoi, err := LoadAOI(p, WGS84)
	if err != nil {
		t.Fatalf("LoadAOI: %v", err)
	}
	if aoi.WKID != WGS84 {
		t.Fatalf("wkid=%d", aoi.WKID)
	}
	if _, ok := aoi.Geometry.(orb.MultiPolygon); !ok {
		t.Fatalf("geometry type %T", aoi.Geometry)
	}
}

func TestParseAOI_Errors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"point", `{"type":"Point","coordinates":[1,2]}`, ErrNotPolygon},
		{"no polygon in collection", `{"type":"FeatureCollection","features":[]}`, ErrEmptyGeometry},
		{"bad crs", `{"type":"Feature","crs":{"type":"name","properties":{"name":"foo"}},"properties":{},
			"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}`, ErrUnsupportedProjection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAOI([]byte(tc.doc), WGS84)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
	if _, err := ParseAOI([]byte(`{`), WGS84); err == nil {
		t.Fatal("expected parse error for truncated json")
	}
}

func TestParseCRSName(t *testing.T) {
	cases := map[string]int{
		"EPSG:4326":                     4326,
		"urn:ogc:def:crs:EPSG::26917":   26917,
		"urn:ogc:def:crs:OGC:1.3:CRS84": 4326,
		"  epsg:3857 ":                  3857,
		"ESRI:102748":                   102748,
	}
	for in, want := range cases {
		got, ok := ParseCRSName(in)
		if !ok || got != want {
			t.Fatalf("ParseCRSName(%q)=%d,%v want %d", in, got, ok, want)
		}
	}
	if _, ok := ParseCRSName("NAD83"); ok {
		t.Fatal("NAD83 should not parse")
	}
}

func TestCRSName(t *testing.T) {
	cases := map[int]string{
		4326:   "EPSG:4326",
		2927:   "EPSG:2927",
		102100: "EPSG:3857",
		102748: "ESRI:102748",
	}
	for in, want := range cases {
		if got := CRSName(in); got != want {
			t.Fatalf("CRSName(%d)=%q want %q", in, got, want)
		}
	}
}

func TestReproject(t *testing.T) {
	pt := orb.Point{10, 45}
	g, err := Reproject(pt, WGS84, WebMercator)
	if err != nil {
		t.Fatalf("Reproject: %v", err)
	}
	m := g.(orb.Point)
	if math.Abs(m[0]-1113194.9) > 1 {
		t.Fatalf("x=%v", m[0])
	}
	back, err := Reproject(m, 102100, WGS84)
	if err != nil {
		t.Fatalf("Reproject back: %v", err)
	}
	b := back.(orb.Point)
	if math.Abs(b[0]-10) > 1e-6 || math.Abs(b[1]-45) > 1e-6 {
		t.Fatalf("round trip=%v", b)
	}
	if pt != (orb.Point{10, 45}) {
		t.Fatal("input mutated")
	}

	if _, err := Reproject(pt, WGS84, 26917); !errors.Is(err, ErrUnsupportedProjection) {
		t.Fatalf("err=%v want ErrUnsupportedProjection", err)
	}
}

func TestEsriPolygon_Orientation(t *testing.T) {
	// GeoJSON exteriors are counterclockwise
	poly := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	ep, err := NewEsriPolygon(poly, 3857)
	if err != nil {
		t.Fatalf("NewEsriPolygon: %v", err)
	}
	if ep.Rings[0].Orientation() != orb.CW {
		t.Fatal("exterior not clockwise")
	}
	if poly[0].Orientation() != orb.CCW {
		t.Fatal("input ring mutated")
	}
	raw, err := json.Marshal(ep)
	if err != nil {
		t.Fatal(err)
	}
	var round EsriPolygon
	if err := json.Unmarshal(raw, &round); err != nil {
		t.Fatal(err)
	}
	if round.SpatialReference == nil || round.SpatialReference.WKID != 3857 {
		t.Fatalf("spatial reference lost: %s", raw)
	}
}

func TestEsriPolygon_GeometryGroupsHoles(t *testing.T) {
	doc := `{"rings":[
	  [[0,0,5],[0,10,5],[10,10,5],[10,0,5],[0,0,5]],
	  [[2,2],[4,2],[4,4],[2,4],[2,2]],
	  [[20,20],[20,30],[30,30],[30,20]]
	]}`
	var ep EsriPolygon
	if err := json.Unmarshal([]byte(doc), &ep); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	g, err := ep.Geometry()
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	mp, ok := g.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("type %T want MultiPolygon", g)
	}
	if len(mp) != 2 || len(mp[0]) != 2 || len(mp[1]) != 1 {
		t.Fatalf("grouping wrong: %d polygons", len(mp))
	}
	if !mp[1][0].Closed() {
		t.Fatal("open ring not closed")
	}
}

func TestIntersector_BoundEngine(t *testing.T) {
	in := NewIntersector(BoundEngine{})
	aoi := AOI{Geometry: square(0, 0, 100, 50), WKID: WebMercator}

	bbox, err := in.IntersectBBox(aoi, square(50, 25, 150, 75), 102100)
	if err != nil {
		t.Fatalf("IntersectBBox: %v", err)
	}
	if bbox != (BoundingBox{XMin: 50, YMin: 25, XMax: 100, YMax: 50}) {
		t.Fatalf("bbox=%+v", bbox)
	}

	if _, err := in.IntersectBBox(aoi, square(200, 200, 300, 300), WebMercator); !errors.Is(err, ErrEmptyIntersection) {
		t.Fatalf("disjoint err=%v", err)
	}
	if _, err := in.IntersectBBox(aoi, square(100, 0, 200, 50), WebMercator); !errors.Is(err, ErrEmptyIntersection) {
		t.Fatalf("edge-touching err=%v", err)
	}
}

func TestIntersector_ReprojectsAOI(t *testing.T) {
	in := NewIntersector(BoundEngine{})
	aoi := AOI{Geometry: square(-1, -1, 1, 1), WKID: WGS84}
	bbox, err := in.IntersectBBox(aoi, square(0, 0, 1e7, 1e7), WebMercator)
	if err != nil {
		t.Fatalf("IntersectBBox: %v", err)
	}
	if math.Abs(bbox.XMax-111319.49) > 1 || bbox.XMin != 0 {
		t.Fatalf("bbox=%+v", bbox)
	}

	if _, err := in.IntersectBBox(aoi, square(0, 0, 1, 1), 26917); !errors.Is(err, ErrUnsupportedProjection) {
		t.Fatalf("err=%v want ErrUnsupportedProjection", err)
	}
}
