// Package geometry holds the polygon and extent types exchanged with the
// image service and the footprint intersection policy. Geometry operations
// themselves are delegated to orb and to an Engine.
package geometry

import (
	"encoding/json"
	"strconv"

	"github.com/paulmach/orb"
)

// SpatialReference is the Esri REST spatial reference object.
type SpatialReference struct {
	WKID       int    `json:"wkid,omitempty"`
	LatestWKID int    `json:"latestWkid,omitempty"`
	WKT        string `json:"wkt,omitempty"`
}

// Code returns the identifier to use in requests: the wkid as published,
// falling back to latestWkid.
func (sr SpatialReference) Code() int {
	if sr.WKID != 0 {
		return sr.WKID
	}
	return sr.LatestWKID
}

func (sr SpatialReference) IsZero() bool {
	return sr.WKID == 0 && sr.LatestWKID == 0 && sr.WKT == ""
}

// JSON renders the object the way imageSR/bboxSR parameters expect it.
func (sr SpatialReference) JSON() string {
	if sr.WKID == 0 && sr.LatestWKID == 0 && sr.WKT == "" {
		return ""
	}
	if sr.WKID == 0 && sr.LatestWKID == 0 {
		b, _ := json.Marshal(sr)
		return string(b)
	}
	return `{"wkid":` + strconv.Itoa(sr.Code()) + `}`
}

// EsriPolygon is the Esri JSON polygon: a flat list of rings where clockwise
// rings are exteriors and counterclockwise rings are holes.
type EsriPolygon struct {
	Rings            []orb.Ring        `json:"rings"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// NewEsriPolygon converts a Polygon or MultiPolygon, orienting exteriors
// clockwise as the REST API expects.
func NewEsriPolygon(g orb.Geometry, wkid int) (EsriPolygon, error) {
	var polys orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		polys = v
	default:
		return EsriPolygon{}, ErrNotPolygon
	}

	out := EsriPolygon{}
	for _, p := range polys {
		for i, r := range p {
			ring := closeRing(r)
			if len(ring) < 4 {
				continue
			}
			want := orb.CW
			if i > 0 {
				want = orb.CCW
			}
			if ring.Orientation() != want {
				ring.Reverse()
			}
			out.Rings = append(out.Rings, ring)
		}
	}
	if len(out.Rings) == 0 {
		return EsriPolygon{}, ErrEmptyGeometry
	}
	if wkid != 0 {
		out.SpatialReference = &SpatialReference{WKID: wkid}
	}
	return out, nil
}

// Geometry groups the rings back into polygons. A counterclockwise ring
// that appears before any exterior is promoted to an exterior.
func (p EsriPolygon) Geometry() (orb.Geometry, error) {
	var mp orb.MultiPolygon
	for _, r := range p.Rings {
		ring := closeRing(r)
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	switch len(mp) {
	case 0:
		return nil, ErrEmptyGeometry
	case 1:
		return mp[0], nil
	default:
		return mp, nil
	}
}

func closeRing(r orb.Ring) orb.Ring {
	ring := append(orb.Ring(nil), r...)
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}
