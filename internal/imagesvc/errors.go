package imagesvc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransport  = errors.New("imagesvc: transport failure")
	ErrDecode     = errors.New("imagesvc: malformed response")
	ErrMissingKey = errors.New("imagesvc: required key missing")
	ErrNotMosaic  = errors.New("imagesvc: service is not backed by a mosaic dataset")
)

// ServiceError ties a failure to the operation and endpoint that produced it.
type ServiceError struct {
	Op  string
	URL string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("imagesvc %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// RemoteError is the {"error":{...}} object the REST API returns with a 200.
type RemoteError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

func missing(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingKey, key)
}
