package imagesvc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

const DefaultWhere = "CATEGORY=1"

// IsImageServerURL is the shape check applied to service inputs that are not
// layer documents.
func IsImageServerURL(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(l, "http") && strings.Contains(l, "imageserver")
}

// NormalizeURL maps SOAP-style "arcgis/services" paths onto the REST root
// and drops trailing slashes and any query string.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse service url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse service url %q: missing host", raw)
	}
	p := u.Path
	if i := strings.Index(strings.ToLower(p), "/arcgis/services/"); i >= 0 {
		p = p[:i] + "/arcgis/rest/services/" + p[i+len("/arcgis/services/"):]
	}
	u.Path = strings.TrimRight(p, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func BuildDescribeParams() url.Values {
	params := url.Values{}
	params.Set("f", "json")
	return params
}

func BuildQueryParams(aoi geometry.AOI, where string) (url.Values, error) {
	esri, err := aoi.Esri()
	if err != nil {
		return nil, fmt.Errorf("aoi geometry: %w", err)
	}
	geom, err := json.Marshal(esri)
	if err != nil {
		return nil, fmt.Errorf("encode aoi geometry: %w", err)
	}
	if strings.TrimSpace(where) == "" {
		where = DefaultWhere
	}
	params := url.Values{}
	params.Set("where", where)
	params.Set("geometry", string(geom))
	params.Set("geometryType", "esriGeometryPolygon")
	if aoi.WKID != 0 {
		params.Set("inSR", strconv.Itoa(aoi.WKID))
	}
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("outFields", "*")
	params.Set("returnGeometry", "true")
	params.Set("f", "json")
	return params, nil
}

// BuildExportParams locks the mosaic to the single item so the export is
// exactly that raster, cut to the box.
func BuildExportParams(r ExportRequest) url.Values {
	sr := r.SpatialReference.JSON()

	mosaic, _ := json.Marshal(map[string]any{
		"mosaicMethod":  "esriMosaicLockRaster",
		"lockRasterIds": []int64{r.ItemID},
	})
	fn := "None"
	if r.ApplyRendering && r.RenderingFunction != "" {
		fn = r.RenderingFunction
	}
	rendering, _ := json.Marshal(map[string]string{"rasterFunction": fn})

	params := url.Values{}
	params.Set("bbox", r.BBox.String())
	params.Set("size", strconv.Itoa(r.Width)+","+strconv.Itoa(r.Height))
	if sr != "" {
		params.Set("imageSR", sr)
		params.Set("bboxSR", sr)
	}
	params.Set("format", "tiff")
	if r.PixelType != "" {
		params.Set("pixelType", r.PixelType)
	}
	params.Set("mosaicRule", string(mosaic))
	params.Set("renderingRule", string(rendering))
	params.Set("f", "json")
	return params
}
