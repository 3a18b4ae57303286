// Package imagesvc talks to an ArcGIS ImageServer REST endpoint: service
// metadata, catalog queries, image export and fetching exported rasters.
package imagesvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/clipship/internal/cache"
	"github.com/mohammed-shakir/clipship/internal/cache/keys"
	"github.com/mohammed-shakir/clipship/internal/core/observability"
	"github.com/mohammed-shakir/clipship/internal/geometry"
)

// maxMetadataBytes bounds JSON responses; rasters are streamed by Fetch.
const maxMetadataBytes = 64 << 20

type Option func(*Client)

// WithCache caches describe and query responses for ttl.
func WithCache(s cache.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		c.cacheTTL = ttl
	}
}

func WithWhere(where string) Option {
	return func(c *Client) { c.where = where }
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	where    string
	cache    cache.Store
	cacheTTL time.Duration
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, service string, opts ...Option) (*Client, error) {
	u, err := NormalizeURL(service)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	c := &Client{
		logger:   logger,
		client:   client,
		base:     u,
		where:    DefaultWhere,
		startNow: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

// Describe fetches the service root document. A service whose capabilities
// omit Catalog has no item catalog to query and yields ErrNotMosaic.
func (c *Client) Describe(ctx context.Context) (Descriptor, error) {
	const op = "describe"
	endpoint := c.base.String()

	body, err := c.cached(ctx, op, http.MethodGet, endpoint, BuildDescribeParams())
	if err != nil {
		return Descriptor{}, err
	}
	var raw describeResponse
	if err := decode(body, &raw); err != nil {
		return Descriptor{}, &ServiceError{Op: op, URL: endpoint, Err: err}
	}

	fail := func(err error) (Descriptor, error) {
		return Descriptor{}, &ServiceError{Op: op, URL: endpoint, Err: err}
	}
	if raw.Extent == nil || raw.Extent.SpatialReference == nil || raw.Extent.SpatialReference.IsZero() {
		return fail(missing("extent.spatialReference"))
	}
	if raw.PixelType == "" {
		return fail(missing("pixelType"))
	}
	if len(raw.RasterFunctionInfos) == 0 || raw.RasterFunctionInfos[0].Name == "" {
		return fail(missing("rasterFunctionInfos[0].name"))
	}

	d := Descriptor{
		Name:                  raw.Name,
		SpatialReference:      *raw.Extent.SpatialReference,
		PixelType:             raw.PixelType,
		DefaultRasterFunction: raw.RasterFunctionInfos[0].Name,
	}
	if raw.Capabilities != nil {
		for _, cp := range strings.Split(*raw.Capabilities, ",") {
			if cp = strings.TrimSpace(cp); cp != "" {
				d.Capabilities = append(d.Capabilities, cp)
			}
		}
		if !d.HasCapability("Catalog") {
			return fail(ErrNotMosaic)
		}
	}

	c.logger.Debug("service described",
		"service", d.Name,
		"wkid", d.SpatialReference.Code(),
		"pixel_type", d.PixelType,
		"raster_function", d.DefaultRasterFunction)
	return d, nil
}

// Query returns the catalog items whose footprints intersect the AOI.
func (c *Client) Query(ctx context.Context, aoi geometry.AOI) (QueryResult, error) {
	const op = "query"
	endpoint := c.base.String() + "/query"

	params, err := BuildQueryParams(aoi, c.where)
	if err != nil {
		return QueryResult{}, &ServiceError{Op: op, URL: endpoint, Err: err}
	}
	body, err := c.cached(ctx, op, http.MethodPost, endpoint, params)
	if err != nil {
		return QueryResult{}, err
	}
	var raw queryResponse
	if err := decode(body, &raw); err != nil {
		return QueryResult{}, &ServiceError{Op: op, URL: endpoint, Err: err}
	}

	res := QueryResult{
		ObjectIDField: objectIDField(raw),
		Fields:        raw.Fields,
	}
	for _, f := range raw.Features {
		oid, ok := lookupInt(f.Attributes, res.ObjectIDField)
		if !ok {
			res.Dropped++
			c.logger.Warn("item dropped: no object id", "field", res.ObjectIDField)
			continue
		}
		if f.Geometry == nil {
			res.Dropped++
			c.logger.Warn("item dropped: no footprint", "object_id", oid)
			continue
		}
		fp, err := f.Geometry.Geometry()
		if err != nil {
			res.Dropped++
			c.logger.Warn("item dropped: unusable footprint", "object_id", oid, "err", err)
			continue
		}
		res.Items = append(res.Items, Item{ObjectID: oid, Attributes: f.Attributes, Footprint: fp})
	}

	c.logger.Debug("query done",
		"items", len(res.Items),
		"dropped", res.Dropped,
		"fields", len(res.Fields))
	return res, nil
}

// ExportImage asks the service to render one locked item into the box and
// returns where the result can be fetched.
func (c *Client) ExportImage(ctx context.Context, r ExportRequest) (ExportResult, error) {
	const op = "export"
	endpoint := c.base.String() + "/exportImage"

	body, err := c.do(ctx, op, http.MethodPost, endpoint, BuildExportParams(r))
	if err != nil {
		return ExportResult{}, err
	}
	var raw exportResponse
	if err := decode(body, &raw); err != nil {
		return ExportResult{}, &ServiceError{Op: op, URL: endpoint, Err: err}
	}
	if raw.Href == "" {
		return ExportResult{}, &ServiceError{Op: op, URL: endpoint, Err: missing("href")}
	}
	href, err := c.resolve(raw.Href)
	if err != nil {
		return ExportResult{}, &ServiceError{Op: op, URL: endpoint, Err: fmt.Errorf("%w: href: %w", ErrDecode, err)}
	}
	return ExportResult{Href: href, Width: raw.Width, Height: raw.Height}, nil
}

// Fetch streams the raster at href into w and returns the byte count.
func (c *Client) Fetch(ctx context.Context, href string, w io.Writer) (int64, error) {
	const op = "fetch"
	target, err := c.resolve(href)
	if err != nil {
		return 0, &ServiceError{Op: op, URL: href, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, &ServiceError{Op: op, URL: target, Err: fmt.Errorf("build request: %w", err)}
	}

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveUpstream(op, err, time.Since(start).Seconds())
		return 0, &ServiceError{Op: op, URL: target, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		err := fmt.Errorf("%w: upstream status %d: %s", ErrTransport, resp.StatusCode, string(b))
		observability.ObserveUpstream(op, err, time.Since(start).Seconds())
		return 0, &ServiceError{Op: op, URL: target, Err: err}
	}

	n, err := io.Copy(w, resp.Body)
	observability.ObserveUpstream(op, err, time.Since(start).Seconds())
	if err != nil {
		return n, &ServiceError{Op: op, URL: target, Err: fmt.Errorf("%w: read body: %w", ErrTransport, err)}
	}
	return n, nil
}

func (c *Client) cached(ctx context.Context, op, method, endpoint string, params url.Values) ([]byte, error) {
	if c.cache == nil {
		return c.do(ctx, op, method, endpoint, params)
	}
	key := keys.Key(op, endpoint, params)
	if b, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		c.logger.Debug("cache hit", "op", op)
		return b, nil
	}
	b, err := c.do(ctx, op, method, endpoint, params)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, b, c.cacheTTL); err != nil {
		c.logger.Warn("cache set failed", "op", op, "err", err)
	}
	return b, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, params url.Values) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, &ServiceError{Op: op, URL: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveUpstream(op, err, time.Since(start).Seconds())
		return nil, &ServiceError{Op: op, URL: endpoint, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		err := fmt.Errorf("%w: upstream status %d: %s", ErrTransport, resp.StatusCode, string(b))
		observability.ObserveUpstream(op, err, time.Since(start).Seconds())
		return nil, &ServiceError{Op: op, URL: endpoint, Err: err}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	observability.ObserveUpstream(op, err, time.Since(start).Seconds())
	if err != nil {
		return nil, &ServiceError{Op: op, URL: endpoint, Err: fmt.Errorf("%w: read body: %w", ErrTransport, err)}
	}

	var env remoteEnvelope
	if json.Unmarshal(b, &env) == nil && env.Error != nil {
		return nil, &ServiceError{Op: op, URL: endpoint, Err: env.Error}
	}

	c.logger.Debug("upstream call done",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(b),
		"duration", time.Since(start).String())
	return b, nil
}

func (c *Client) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	// relative hrefs are relative to the service root, not its parent
	base := *c.base
	base.Path += "/"
	return base.ResolveReference(ref).String(), nil
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

func objectIDField(raw queryResponse) string {
	if raw.ObjectIDFieldName != "" {
		return raw.ObjectIDFieldName
	}
	for _, f := range raw.Fields {
		if f.Type == "esriFieldTypeOID" {
			return f.Name
		}
	}
	return "OBJECTID"
}

func lookupInt(attrs map[string]any, name string) (int64, bool) {
	if v, ok := attrs[name]; ok {
		return Int64(v)
	}
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			return Int64(v)
		}
	}
	return 0, false
}

// IsRemote reports whether err carries a service-side error object.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
