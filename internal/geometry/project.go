package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	WGS84        = 4326
	WebMercator  = 3857
	webMercator2 = 102100 // Esri alias for 3857
	webMercator3 = 900913
)

// Canonical folds known aliases of the same coordinate system.
func Canonical(wkid int) int {
	switch wkid {
	case webMercator2, webMercator3:
		return WebMercator
	default:
		return wkid
	}
}

// Reproject returns g expressed in the target wkid. Identical systems are a
// clone; only geographic WGS84 and Web Mercator are converted between.
func Reproject(g orb.Geometry, from, to int) (orb.Geometry, error) {
	from, to = Canonical(from), Canonical(to)
	if g == nil {
		return nil, ErrEmptyGeometry
	}
	out := orb.Clone(g)
	switch {
	case from == to:
		return out, nil
	case from == WGS84 && to == WebMercator:
		return project.Geometry(out, project.WGS84.ToMercator), nil
	case from == WebMercator && to == WGS84:
		return project.Geometry(out, project.Mercator.ToWGS84), nil
	default:
		return nil, fmt.Errorf("%w: %d to %d", ErrUnsupportedProjection, from, to)
	}
}
