package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/clipship/internal/geometry"
)

var ErrReprojectFailed = errors.New("clip: area of interest reprojection failed")

// Reprojector moves an AOI into a coordinate system the in-process
// projections do not cover, using ogr2ogr.
type Reprojector struct {
	logger *slog.Logger
	runner Runner
	bin    string
}

func NewReprojector(logger *slog.Logger, runner Runner, ogr2ogrBin string) *Reprojector {
	if ogr2ogrBin == "" {
		ogr2ogrBin = "ogr2ogr"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Reprojector{logger: logger, runner: runner, bin: ogr2ogrBin}
}

// Reproject returns aoi expressed in wkid. WGS84 and Web Mercator are
// converted in process; anything else goes through ogr2ogr.
func (r *Reprojector) Reproject(ctx context.Context, aoi geometry.AOI, wkid int) (geometry.AOI, error) {
	out, err := aoi.In(wkid)
	if err == nil || !errors.Is(err, geometry.ErrUnsupportedProjection) {
		return out, err
	}

	dir, err := os.MkdirTemp("", "clipship-aoi-")
	if err != nil {
		return geometry.AOI{}, fmt.Errorf("%w: %w", ErrReprojectFailed, err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	src, err := writeAOI(dir, "source-*.geojson", aoi)
	if err != nil {
		return geometry.AOI{}, err
	}
	dst := filepath.Join(dir, "target.geojson")
	args := []string{
		"-f", "GeoJSON",
		"-t_srs", geometry.CRSName(wkid),
		dst,
		src,
	}
	if _, stderr, err := r.runner.Run(ctx, r.bin, args...); err != nil {
		return geometry.AOI{}, fmt.Errorf("%w: %d to %d: %w: %s",
			ErrReprojectFailed, aoi.WKID, wkid, err, strings.TrimSpace(stderr))
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return geometry.AOI{}, fmt.Errorf("%w: read output: %w", ErrReprojectFailed, err)
	}
	res, err := geometry.ParseAOI(data, wkid)
	if err != nil {
		return geometry.AOI{}, fmt.Errorf("%w: %w", ErrReprojectFailed, err)
	}
	res.WKID = wkid
	r.logger.Debug("area of interest reprojected", "from", aoi.WKID, "to", wkid, "tool", r.bin)
	return res, nil
}
