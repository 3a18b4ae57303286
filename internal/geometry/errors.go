package geometry

import "errors"

var (
	ErrEmptyGeometry         = errors.New("geometry: empty geometry")
	ErrNotPolygon            = errors.New("geometry: area of interest must be a polygon or multipolygon")
	ErrEmptyIntersection     = errors.New("geometry: footprint does not intersect area of interest")
	ErrUnsupportedProjection = errors.New("geometry: unsupported projection")
)
