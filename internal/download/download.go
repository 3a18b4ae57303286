// Package download exports one catalog item, cut to a bounding box, and
// writes it as a GeoTIFF in the output directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mohammed-shakir/clipship/internal/core/observability"
	"github.com/mohammed-shakir/clipship/internal/geometry"
	"github.com/mohammed-shakir/clipship/internal/imagesvc"
)

var (
	ErrEmptyImage      = errors.New("download: bounding box is smaller than one cell")
	ErrInvalidCellSize = errors.New("download: cell size must be positive")
)

// Exporter is the part of the image service client the downloader uses.
type Exporter interface {
	ExportImage(ctx context.Context, r imagesvc.ExportRequest) (imagesvc.ExportResult, error)
	Fetch(ctx context.Context, href string, w io.Writer) (int64, error)
}

type Request struct {
	ItemID            int64
	BBox              geometry.BoundingBox
	CellSize          float64
	SpatialReference  geometry.SpatialReference
	PixelType         string
	RenderingFunction string
	ApplyRendering    bool
}

type Result struct {
	Path   string
	Bytes  int64
	Width  int
	Height int
}

type Downloader struct {
	logger *slog.Logger
	svc    Exporter
	outDir string
}

func New(logger *slog.Logger, svc Exporter, outDir string) *Downloader {
	return &Downloader{logger: logger, svc: svc, outDir: outDir}
}

// FileName is the on-disk name for an item's export.
func FileName(itemID int64) string {
	return "mdimage" + strconv.FormatInt(itemID, 10) + ".tif"
}

// ImageSize is the pixel grid covering b at cellSize, truncated toward zero.
func ImageSize(b geometry.BoundingBox, cellSize float64) (width, height int) {
	return int(math.Floor(b.Width() / cellSize)), int(math.Floor(b.Height() / cellSize))
}

// Download exports the item and writes it to <outDir>/mdimage<id>.tif,
// replacing any existing file. Bytes land in a .part file first so a failed
// transfer never leaves a truncated raster under the final name.
func (d *Downloader) Download(ctx context.Context, r Request) (Result, error) {
	if !(r.CellSize > 0) {
		return Result{}, ErrInvalidCellSize
	}
	w, h := ImageSize(r.BBox, r.CellSize)
	if w <= 0 || h <= 0 {
		return Result{}, fmt.Errorf("%w: %s at cell size %g", ErrEmptyImage, r.BBox, r.CellSize)
	}

	exp, err := d.svc.ExportImage(ctx, imagesvc.ExportRequest{
		ItemID:            r.ItemID,
		BBox:              r.BBox,
		Width:             w,
		Height:            h,
		SpatialReference:  r.SpatialReference,
		PixelType:         r.PixelType,
		RenderingFunction: r.RenderingFunction,
		ApplyRendering:    r.ApplyRendering,
	})
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(d.outDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("mkdir %s: %w", d.outDir, err)
	}
	outPath := filepath.Join(d.outDir, FileName(r.ItemID))
	n, err := d.fetchTo(ctx, exp.Href, outPath)
	if err != nil {
		return Result{}, err
	}

	d.logger.Info("image downloaded",
		"path", outPath,
		"bytes", n,
		"width", w,
		"height", h)
	return Result{Path: outPath, Bytes: n, Width: w, Height: h}, nil
}

func (d *Downloader) fetchTo(ctx context.Context, href, outPath string) (int64, error) {
	tmpPath := filepath.Clean(outPath) + ".part"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open tmp: %w", err)
	}

	pw := &progressWriter{w: f, name: filepath.Base(outPath), logger: d.logger, lastLog: time.Now()}
	n, err := d.svc.Fetch(ctx, href, pw)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close tmp: %w", closeErr)
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: empty response body", imagesvc.ErrTransport)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

// progressWriter counts bytes into metrics and logs large transfers.
type progressWriter struct {
	w       io.Writer
	name    string
	logger  *slog.Logger
	current int64
	lastLog time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.current += int64(n)
	observability.AddDownloadedBytes(int64(n))

	if time.Since(pw.lastLog) > 5*time.Second {
		pw.lastLog = time.Now()
		pw.logger.Debug("download progress", "file", pw.name, "mb", pw.current/1024/1024)
	}
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}
