package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammed-shakir/clipship/internal/catalog"
	"github.com/mohammed-shakir/clipship/internal/core/config"
	"github.com/mohammed-shakir/clipship/internal/geometry"
	"github.com/mohammed-shakir/clipship/internal/imagesvc"
)

// Process exit codes, one per error class.
const (
	ExitOK      = 0
	ExitGeneric = 1
	ExitInput   = 2
	ExitService = 3
	ExitCatalog = 4
	ExitPartial = 5
)

var (
	// ErrCatalog marks catalog creation and schema failures.
	ErrCatalog = errors.New("pipeline: catalog")
	// ErrPartial is returned when the run finished but some items failed.
	ErrPartial = errors.New("pipeline: one or more items failed")
)

// Item stages, also used as metric labels.
const (
	StageIntersect = "intersect"
	StageDownload  = "download"
	StageClip      = "clip"
	StageIngest    = "ingest"
	StageAttrs     = "attributes"
)

// ItemError records why one item did not make it into the catalog.
type ItemError struct {
	ItemID  int64  `json:"item_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func newItemError(id int64, stage string, err error) *ItemError {
	return &ItemError{ItemID: id, Stage: stage, Message: err.Error(), Err: err}
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %s: %v", e.ItemID, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Classify maps a run error onto its exit code.
func Classify(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		svcErr    *imagesvc.ServiceError
		remoteErr *imagesvc.RemoteError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitGeneric
	case errors.Is(err, ErrPartial):
		return ExitPartial
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotImageServiceLayer),
		errors.Is(err, config.ErrUsage):
		return ExitInput
	case errors.Is(err, ErrCatalog),
		errors.Is(err, catalog.ErrCatalogExists),
		errors.Is(err, catalog.ErrInvalidName),
		errors.Is(err, catalog.ErrUnknownDriver):
		return ExitCatalog
	case errors.As(err, &svcErr),
		errors.As(err, &remoteErr),
		errors.Is(err, imagesvc.ErrNotMosaic),
		errors.Is(err, imagesvc.ErrTransport),
		errors.Is(err, imagesvc.ErrDecode),
		errors.Is(err, geometry.ErrUnsupportedProjection):
		return ExitService
	default:
		return ExitGeneric
	}
}
