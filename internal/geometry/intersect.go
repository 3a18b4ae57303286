package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Engine performs the exact polygon overlay. The production implementation
// lives in geosengine.
type Engine interface {
	IntersectionBound(a, b orb.Geometry) (orb.Bound, error)
}

// Intersector reduces an item footprint to the rectangle that should be
// exported for it.
type Intersector struct {
	engine Engine
}

func NewIntersector(engine Engine) *Intersector {
	return &Intersector{engine: engine}
}

// IntersectBBox reprojects the AOI into wkid when needed and returns the
// envelope of AOI ∩ footprint. A degenerate or empty overlap yields
// ErrEmptyIntersection.
func (i *Intersector) IntersectBBox(aoi AOI, footprint orb.Geometry, wkid int) (BoundingBox, error) {
	if footprint == nil || aoi.Geometry == nil {
		return BoundingBox{}, ErrEmptyGeometry
	}
	if aoi.WKID != 0 && wkid != 0 && Canonical(aoi.WKID) != Canonical(wkid) {
		p, err := aoi.In(wkid)
		if err != nil {
			return BoundingBox{}, err
		}
		aoi = p
	}

	// Disjoint envelopes need no exact overlay.
	if !aoi.Bound().Intersects(footprint.Bound()) {
		return BoundingBox{}, ErrEmptyIntersection
	}

	b, err := i.engine.IntersectionBound(aoi.Geometry, footprint)
	if err != nil {
		return BoundingBox{}, fmt.Errorf("intersect: %w", err)
	}
	bbox := FromBound(b)
	if bbox.Degenerate() {
		return BoundingBox{}, ErrEmptyIntersection
	}
	return bbox, nil
}

// BoundEngine intersects envelopes only. It is exact for rectangular
// footprints and is used when GEOS is not wanted.
type BoundEngine struct{}

func (BoundEngine) IntersectionBound(a, b orb.Geometry) (orb.Bound, error) {
	ab, bb := a.Bound(), b.Bound()
	if !ab.Intersects(bb) {
		return orb.Bound{}, ErrEmptyIntersection
	}
	return orb.Bound{
		Min: orb.Point{max(ab.Min[0], bb.Min[0]), max(ab.Min[1], bb.Min[1])},
		Max: orb.Point{min(ab.Max[0], bb.Max[0]), min(ab.Max[1], bb.Max[1])},
	}, nil
}
