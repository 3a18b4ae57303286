// Package pipeline runs one clip-and-ship job: inspect the image service,
// find the items under the area of interest, then download, clip and
// catalog them one at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/clipship/internal/cache"
	"github.com/mohammed-shakir/clipship/internal/catalog"
	"github.com/mohammed-shakir/clipship/internal/clip"
	"github.com/mohammed-shakir/clipship/internal/core/config"
	"github.com/mohammed-shakir/clipship/internal/core/observability"
	"github.com/mohammed-shakir/clipship/internal/download"
	"github.com/mohammed-shakir/clipship/internal/events"
	"github.com/mohammed-shakir/clipship/internal/geometry"
	"github.com/mohammed-shakir/clipship/internal/imagesvc"
	mylog "github.com/mohammed-shakir/clipship/internal/logger"
)

type Option func(*Pipeline)

func WithCache(s cache.Store, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.cache = s
		p.cacheTTL = ttl
	}
}

func WithWhere(where string) Option {
	return func(p *Pipeline) { p.where = where }
}

func WithEngine(e geometry.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithClipper sets how gdalwarp is run.
func WithClipper(r clip.Runner, bin string) Option {
	return func(p *Pipeline) {
		p.runner = r
		p.gdalwarp = bin
	}
}

// WithOgr2ogr names the tool used to reproject the area of interest into
// coordinate systems other than WGS84 and Web Mercator. It runs through the
// clipper's runner.
func WithOgr2ogr(bin string) Option {
	return func(p *Pipeline) { p.ogr2ogr = bin }
}

func WithCatalog(driver string, overwrite bool) Option {
	return func(p *Pipeline) {
		p.driver = driver
		p.overwrite = overwrite
	}
}

func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

type Pipeline struct {
	logger   *slog.Logger
	client   *http.Client
	cache    cache.Store
	cacheTTL time.Duration
	where    string
	engine   geometry.Engine
	runner   clip.Runner
	gdalwarp string
	ogr2ogr  string
	events   events.Publisher

	// fixed for the whole run
	driver    string
	overwrite bool

	progress *Progress
}

func New(logger *slog.Logger, client *http.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:    logger,
		client:    client,
		where:     imagesvc.DefaultWhere,
		engine:    geometry.BoundEngine{},
		events:    events.Nop{},
		driver:    "sqlite",
		overwrite: true,
		progress:  &Progress{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Progress is safe to read while Run is in flight.
func (p *Pipeline) Progress() *Progress { return p.progress }

// run-scoped collaborators
type job struct {
	params     config.RunParams
	runID      string
	desc       imagesvc.Descriptor
	aoi        geometry.AOI // in the service spatial reference
	oidField   string
	cat        *catalog.Catalog
	intersect  *geometry.Intersector
	downloader *download.Downloader
	clipper    *clip.Clipper
}

// Run validates the inputs before any network call, then processes every
// matched item in order. Item failures are collected and reported through
// ErrPartial once all items have been tried.
func (p *Pipeline) Run(ctx context.Context, params config.RunParams) (Summary, error) {
	runID := mylog.RunID(ctx)
	if runID == "" {
		runID = mylog.NewID()
		ctx = mylog.WithRunID(ctx, runID)
	}
	p.progress.update(func(s *Summary) {
		s.RunID = runID
		s.Started = time.Now().UTC()
	})

	err := p.run(ctx, params, runID)
	sum := p.progress.finish()
	if err == nil && sum.Failed > 0 {
		err = fmt.Errorf("%w: %d of %d", ErrPartial, sum.Failed, sum.Matched)
	}
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, params config.RunParams, runID string) error {
	if err := params.Validate(); err != nil {
		return err
	}
	serviceURL, err := ResolveService(params.Service)
	if err != nil {
		return err
	}
	aoi, err := geometry.LoadAOI(params.PolygonPath, geometry.WGS84)
	if err != nil {
		return fmt.Errorf("%w: polygon source: %w", ErrInvalidInput, err)
	}

	svcOpts := []imagesvc.Option{imagesvc.WithWhere(p.where)}
	if p.cache != nil {
		svcOpts = append(svcOpts, imagesvc.WithCache(p.cache, p.cacheTTL))
	}
	svc, err := imagesvc.New(p.logger, p.client, serviceURL, svcOpts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	p.progress.update(func(s *Summary) { s.Service = svc.BaseURL() })

	desc, err := svc.Describe(ctx)
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "service described",
		"service", svc.BaseURL(),
		"wkid", desc.SpatialReference.Code(),
		"pixel_type", desc.PixelType,
		"rendering_function", desc.DefaultRasterFunction)

	// The query carries the AOI in its own system; the service converts it.
	res, err := svc.Query(ctx, aoi)
	if err != nil {
		return err
	}
	p.progress.update(func(s *Summary) { s.Matched = len(res.Items) })
	if len(res.Items) == 0 {
		p.logger.InfoContext(ctx, "no images intersect the area of interest", "where", p.where)
		return nil
	}
	p.logger.InfoContext(ctx, "images found", "count", len(res.Items), "dropped", res.Dropped)

	if code := desc.SpatialReference.Code(); code != 0 {
		reproj := clip.NewReprojector(p.logger, p.runner, p.ogr2ogr)
		if aoi, err = reproj.Reproject(ctx, aoi, code); err != nil {
			return fmt.Errorf("area of interest: %w", err)
		}
	}

	cat, err := catalog.Open(ctx, p.logger, catalog.Options{
		Driver:           p.driver,
		Path:             params.CatalogPath,
		Name:             params.CatalogName,
		SpatialReference: desc.SpatialReference,
		Overwrite:        p.overwrite,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	defer func() {
		if cerr := cat.Close(); cerr != nil {
			p.logger.Warn("close catalog", "err", cerr)
		}
	}()
	p.progress.update(func(s *Summary) { s.Catalog = cat.Name() })

	if _, err := cat.ReconcileSchema(ctx, res.Fields); err != nil {
		return fmt.Errorf("%w: %w", ErrCatalog, err)
	}

	j := &job{
		params:     params,
		runID:      runID,
		desc:       desc,
		aoi:        aoi,
		oidField:   res.ObjectIDField,
		cat:        cat,
		intersect:  geometry.NewIntersector(p.engine),
		downloader: download.New(p.logger, svc, params.OutputDir),
		clipper:    clip.New(p.logger, p.runner, p.gdalwarp),
	}

	for i, item := range res.Items {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.progress.setCurrent(item.ObjectID)
		itemCtx := mylog.WithItemID(ctx, item.ObjectID)
		p.logger.InfoContext(itemCtx, "processing image", "n", i+1, "of", len(res.Items))

		if err := p.processItem(itemCtx, j, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ie *ItemError
			if !errors.As(err, &ie) {
				ie = newItemError(item.ObjectID, "unknown", err)
			}
			observability.IncItem(ie.Stage, "error")
			p.logger.ErrorContext(itemCtx, "image failed", "stage", ie.Stage, "err", ie.Err)
			p.progress.update(func(s *Summary) {
				s.Failed++
				s.Failures = append(s.Failures, ie)
			})
		}
	}
	return nil
}

// processItem takes one item from intersection to catalogued row. An AOI
// that only touches the footprint skips the item without failing it.
func (p *Pipeline) processItem(ctx context.Context, j *job, item imagesvc.Item) error {
	wkid := j.desc.SpatialReference.Code()
	bbox, err := j.intersect.IntersectBBox(j.aoi, item.Footprint, wkid)
	if errors.Is(err, geometry.ErrEmptyIntersection) {
		p.logger.InfoContext(ctx, "image does not overlap the area of interest")
		observability.IncItem(StageIntersect, "skipped")
		p.progress.update(func(s *Summary) { s.Skipped++ })
		return nil
	}
	if err != nil {
		return newItemError(item.ObjectID, StageIntersect, err)
	}

	dl, err := j.downloader.Download(ctx, download.Request{
		ItemID:            item.ObjectID,
		BBox:              bbox,
		CellSize:          j.params.CellSize,
		SpatialReference:  j.desc.SpatialReference,
		PixelType:         j.desc.PixelType,
		RenderingFunction: j.desc.DefaultRasterFunction,
		ApplyRendering:    j.params.UseRendering,
	})
	if err != nil {
		return newItemError(item.ObjectID, StageDownload, err)
	}
	observability.IncItem(StageDownload, "ok")
	p.progress.update(func(s *Summary) { s.Downloaded++ })

	raster := dl.Path
	if j.params.Clip {
		out, err := j.clipper.Clip(ctx, dl.Path, j.aoi, item.ObjectID, j.params.NoData)
		if err != nil {
			return newItemError(item.ObjectID, StageClip, err)
		}
		raster = out
		observability.IncItem(StageClip, "ok")
		p.progress.update(func(s *Summary) { s.Clipped++ })
	}

	src := catalog.RasterSource{Path: raster, Footprint: bbox.Polygon()}
	added, err := j.cat.Ingest(ctx, src, item.Attributes, j.oidField)
	if errors.Is(err, catalog.ErrBadAttribute) {
		return newItemError(item.ObjectID, StageAttrs, err)
	}
	if err != nil {
		return newItemError(item.ObjectID, StageIngest, err)
	}
	observability.IncItem(StageIngest, "ok")
	p.progress.update(func(s *Summary) {
		if added.Duplicate {
			s.Duplicates++
			return
		}
		s.Ingested++
	})

	p.events.Publish(events.Event{
		RunID:   j.runID,
		Catalog: j.cat.Name(),
		RowID:   added.ID,
		ItemID:  item.ObjectID,
		Raster:  raster,
		Clipped: j.params.Clip,
	})
	return nil
}
