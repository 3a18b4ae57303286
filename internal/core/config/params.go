package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/clipship/internal/catalog"
)

// ErrUsage marks malformed positional parameters.
var ErrUsage = errors.New("usage")

const NumParams = 9

// RunParams are the positional parameters of one clip-and-ship run.
type RunParams struct {
	Service      string
	OutputDir    string
	CatalogPath  string
	CatalogName  string
	PolygonPath  string
	CellSize     float64
	Clip         bool
	NoData       float64
	UseRendering bool
}

func ParseArgs(args []string) (RunParams, error) {
	if len(args) != NumParams {
		return RunParams{}, fmt.Errorf("%w: expected %d parameters, got %d", ErrUsage, NumParams, len(args))
	}
	p := RunParams{
		Service:     strings.TrimSpace(args[0]),
		OutputDir:   strings.TrimSpace(args[1]),
		CatalogPath: strings.TrimSpace(args[2]),
		CatalogName: strings.TrimSpace(args[3]),
		PolygonPath: strings.TrimSpace(args[4]),
	}

	var err error
	if p.CellSize, err = strconv.ParseFloat(strings.TrimSpace(args[5]), 64); err != nil {
		return RunParams{}, fmt.Errorf("%w: cell size %q: %v", ErrUsage, args[5], err)
	}
	var ok bool
	if p.Clip, ok = ParseBool(args[6]); !ok {
		return RunParams{}, fmt.Errorf("%w: clipping flag %q is not a boolean", ErrUsage, args[6])
	}
	if p.NoData, err = strconv.ParseFloat(strings.TrimSpace(args[7]), 64); err != nil {
		return RunParams{}, fmt.Errorf("%w: nodata %q: %v", ErrUsage, args[7], err)
	}
	if p.UseRendering, ok = ParseBool(args[8]); !ok {
		return RunParams{}, fmt.Errorf("%w: rendering flag %q is not a boolean", ErrUsage, args[8])
	}
	return p, p.Validate()
}

func (p RunParams) Validate() error {
	switch {
	case p.Service == "":
		return fmt.Errorf("%w: service reference is required", ErrUsage)
	case p.OutputDir == "":
		return fmt.Errorf("%w: output directory is required", ErrUsage)
	case p.CatalogPath == "":
		return fmt.Errorf("%w: catalog path is required", ErrUsage)
	case p.CatalogName == "":
		return fmt.Errorf("%w: catalog name is required", ErrUsage)
	case !catalog.ValidName(p.CatalogName):
		return fmt.Errorf("%w: catalog name %q: %w", ErrUsage, p.CatalogName, catalog.ErrInvalidName)
	case p.PolygonPath == "":
		return fmt.Errorf("%w: polygon source is required", ErrUsage)
	case !(p.CellSize > 0):
		return fmt.Errorf("%w: cell size must be positive, got %v", ErrUsage, p.CellSize)
	}
	return nil
}
