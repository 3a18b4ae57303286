package geometry

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// BoundingBox is an extent in the image service's spatial reference.
type BoundingBox struct {
	XMin, YMin float64
	XMax, YMax float64
}

func FromBound(b orb.Bound) BoundingBox {
	return BoundingBox{XMin: b.Min[0], YMin: b.Min[1], XMax: b.Max[0], YMax: b.Max[1]}
}

func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.XMin, b.YMin}, Max: orb.Point{b.XMax, b.YMax}}
}

func (b BoundingBox) Width() float64  { return math.Abs(b.XMax - b.XMin) }
func (b BoundingBox) Height() float64 { return math.Abs(b.YMax - b.YMin) }

// Degenerate reports a box with no area; such a box cannot be exported.
func (b BoundingBox) Degenerate() bool {
	return !(b.Width() > 0) || !(b.Height() > 0)
}

// Polygon returns the box as a closed ring.
func (b BoundingBox) Polygon() orb.Polygon {
	return b.Bound().ToPolygon()
}

// String formats the box as "xmin,ymin,xmax,ymax" for the bbox parameter.
func (b BoundingBox) String() string {
	parts := []string{
		strconv.FormatFloat(b.XMin, 'f', -1, 64),
		strconv.FormatFloat(b.YMin, 'f', -1, 64),
		strconv.FormatFloat(b.XMax, 'f', -1, 64),
		strconv.FormatFloat(b.YMax, 'f', -1, 64),
	}
	return strings.Join(parts, ",")
}
