package geosengine

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}.ToPolygon()
}

func TestIntersectionBound_Overlap(t *testing.T) {
	b, err := New().IntersectionBound(square(0, 0, 10, 10), square(5, 5, 20, 20))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{10, 10}}
	if !b.Equal(want) {
		t.Fatalf("bound=%v want %v", b, want)
	}
}

func TestIntersectionBound_Triangle(t *testing.T) {
	tri := orb.Polygon{{{0, 0}, {10, 0}, {0, 10}, {0, 0}}}
	b, err := New().IntersectionBound(tri, square(-5, -5, 4, 4))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{4, 4}}
	if !b.Equal(want) {
		t.Fatalf("bound=%v want %v", b, want)
	}
}

func TestIntersectionBound_TouchingIsEmpty(t *testing.T) {
	_, err := New().IntersectionBound(square(0, 0, 10, 10), square(10, 0, 20, 10))
	if !errors.Is(err, geometry.ErrEmptyIntersection) {
		t.Fatalf("err=%v want ErrEmptyIntersection", err)
	}
}

func TestIntersectionBound_Disjoint(t *testing.T) {
	_, err := New().IntersectionBound(square(0, 0, 1, 1), square(5, 5, 6, 6))
	if !errors.Is(err, geometry.ErrEmptyIntersection) {
		t.Fatalf("err=%v want ErrEmptyIntersection", err)
	}
}

func TestIntersector_WithGEOS(t *testing.T) {
	in := geometry.NewIntersector(New())
	aoi := geometry.AOI{Geometry: square(0, 0, 100, 50), WKID: 3857}
	bbox, err := in.IntersectBBox(aoi, square(50, -10, 200, 20), 3857)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if bbox.String() != "50,0,100,20" {
		t.Fatalf("bbox=%s", bbox)
	}
}
