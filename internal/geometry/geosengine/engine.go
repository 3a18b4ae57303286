// Package geosengine computes polygon overlays with GEOS.
package geosengine

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulsmith/gogeos/geos"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

type Engine struct{}

func New() *Engine { return &Engine{} }

// IntersectionBound returns the envelope of a ∩ b. An overlap with zero
// area is reported as geometry.ErrEmptyIntersection.
func (e *Engine) IntersectionBound(a, b orb.Geometry) (orb.Bound, error) {
	var (
		ga, gb, inter, env *geos.Geometry
		area               float64
		err                error
	)
	if ga, err = toGEOS(a); err != nil {
		return orb.Bound{}, err
	}
	if gb, err = toGEOS(b); err != nil {
		return orb.Bound{}, err
	}
	if inter, err = ga.Intersection(gb); err != nil {
		return orb.Bound{}, fmt.Errorf("geos intersection: %w", err)
	}
	if area, err = inter.Area(); err != nil {
		return orb.Bound{}, fmt.Errorf("geos area: %w", err)
	}
	if area == 0 {
		return orb.Bound{}, geometry.ErrEmptyIntersection
	}
	if env, err = inter.Envelope(); err != nil {
		return orb.Bound{}, fmt.Errorf("geos envelope: %w", err)
	}
	return boundOf(env)
}

func toGEOS(g orb.Geometry) (*geos.Geometry, error) {
	if g == nil {
		return nil, geometry.ErrEmptyGeometry
	}
	out, err := geos.FromWKT(wkt.MarshalString(g))
	if err != nil {
		return nil, fmt.Errorf("geos from wkt: %w", err)
	}
	valid, err := out.IsValid()
	if err != nil {
		return nil, fmt.Errorf("geos validity: %w", err)
	}
	if !valid {
		// zero-width buffer repairs self intersections and bad ring order
		if out, err = out.Buffer(0); err != nil {
			return nil, fmt.Errorf("geos buffer: %w", err)
		}
	}
	return out, nil
}

func boundOf(env *geos.Geometry) (orb.Bound, error) {
	gt, err := env.Type()
	if err != nil {
		return orb.Bound{}, err
	}
	var coords []geos.Coord
	switch gt {
	case geos.POLYGON:
		shell, err := env.Shell()
		if err != nil {
			return orb.Bound{}, err
		}
		if coords, err = shell.Coords(); err != nil {
			return orb.Bound{}, err
		}
	case geos.POINT:
		return orb.Bound{}, geometry.ErrEmptyIntersection
	default:
		return orb.Bound{}, fmt.Errorf("geos envelope: unexpected type %v", gt)
	}
	mp := make(orb.MultiPoint, 0, len(coords))
	for _, c := range coords {
		mp = append(mp, orb.Point{c.X, c.Y})
	}
	return mp.Bound(), nil
}
