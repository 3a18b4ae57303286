// Package clip cuts downloaded rasters to the exact area of interest with
// gdalwarp.
package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

var ErrClipFailed = errors.New("clip: raster clip failed")

// Runner executes an external program. ExecRunner is the real one; tests
// substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.String(), errb.String(), err
}

type Clipper struct {
	logger *slog.Logger
	runner Runner
	bin    string
	remove func(string) error
}

func New(logger *slog.Logger, runner Runner, gdalwarpBin string) *Clipper {
	if gdalwarpBin == "" {
		gdalwarpBin = "gdalwarp"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Clipper{logger: logger, runner: runner, bin: gdalwarpBin, remove: os.Remove}
}

// ClipName inserts "_clip" before the extension.
func ClipName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_clip" + ext
}

// Clip writes <stem>_clip<ext> next to in, masking pixels outside the AOI
// with nodata, then removes in. On failure the input is left in place and
// no clipped output remains.
func (c *Clipper) Clip(ctx context.Context, in string, aoi geometry.AOI, itemID int64, nodata float64) (string, error) {
	out := ClipName(in)

	cutline, err := writeAOI(filepath.Dir(in), fmt.Sprintf("cutline%d-*.geojson", itemID), aoi)
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(cutline) }()

	args := []string{
		"-overwrite",
		"-of", "GTiff",
		"-cutline", cutline,
		"-dstnodata", strconv.FormatFloat(nodata, 'f', -1, 64),
		in,
		out,
	}
	if _, stderr, err := c.runner.Run(ctx, c.bin, args...); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: item %d: %w: %s", ErrClipFailed, itemID, err, strings.TrimSpace(stderr))
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("%w: item %d: output missing: %w", ErrClipFailed, itemID, err)
	}

	if err := c.remove(in); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: item %d: remove unclipped input: %w", ErrClipFailed, itemID, err)
	}
	c.logger.Info("image clipped", "item_id", itemID, "path", out)
	return out, nil
}

// writeAOI stores the AOI as a single-feature GeoJSON with a named crs
// member so GDAL tools know which system its vertices are in.
func writeAOI(dir, pattern string, aoi geometry.AOI) (string, error) {
	if aoi.Geometry == nil {
		return "", geometry.ErrEmptyGeometry
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(aoi.Geometry))
	if aoi.WKID != 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]any{
				"type":       "name",
				"properties": map[string]any{"name": geometry.CRSName(aoi.WKID)},
			},
		}
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return "", fmt.Errorf("encode cutline: %w", err)
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create cutline: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write cutline: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close cutline: %w", err)
	}
	return f.Name(), nil
}
