package imagesvc

import (
	"encoding/json"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

// Descriptor is the subset of the service root document the pipeline needs.
type Descriptor struct {
	Name                  string
	SpatialReference      geometry.SpatialReference
	PixelType             string
	DefaultRasterFunction string
	Capabilities          []string
}

func (d Descriptor) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

type CodedValue struct {
	Name string `json:"name"`
	Code any    `json:"code"`
}

type Domain struct {
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	CodedValues []CodedValue `json:"codedValues"`
}

// IsCoded reports a coded-value domain; range domains are not carried over.
func (d *Domain) IsCoded() bool {
	return d != nil && d.Name != "" && (d.Type == "" || d.Type == "codedValue")
}

type Field struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Alias  string  `json:"alias,omitempty"`
	Length int     `json:"length,omitempty"`
	Domain *Domain `json:"domain,omitempty"`
}

// Item is one catalog record of the mosaic. Attribute numbers are kept as
// json.Number so integer ids survive decoding exactly.
type Item struct {
	ObjectID   int64
	Attributes map[string]any
	Footprint  orb.Geometry
}

type QueryResult struct {
	ObjectIDField string
	Fields        []Field
	Items         []Item
	// Dropped counts features returned without a usable footprint.
	Dropped int
}

type ExportRequest struct {
	ItemID            int64
	BBox              geometry.BoundingBox
	Width, Height     int
	SpatialReference  geometry.SpatialReference
	PixelType         string
	RenderingFunction string
	ApplyRendering    bool
}

type ExportResult struct {
	Href   string
	Width  int
	Height int
}

// wire shapes

type remoteEnvelope struct {
	Error *RemoteError `json:"error"`
}

type describeResponse struct {
	Name   string `json:"name"`
	Extent *struct {
		SpatialReference *geometry.SpatialReference `json:"spatialReference"`
	} `json:"extent"`
	PixelType           string `json:"pixelType"`
	RasterFunctionInfos []struct {
		Name string `json:"name"`
	} `json:"rasterFunctionInfos"`
	Capabilities *string `json:"capabilities"`
}

type queryResponse struct {
	ObjectIDFieldName string  `json:"objectIdFieldName"`
	Fields            []Field `json:"fields"`
	Features          []struct {
		Attributes map[string]any        `json:"attributes"`
		Geometry   *geometry.EsriPolygon `json:"geometry"`
	} `json:"features"`
}

type exportResponse struct {
	Href   string `json:"href"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Int64 converts a decoded attribute value to an integer.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
