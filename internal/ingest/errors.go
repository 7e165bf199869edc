// Package ingest relays meter submissions to the Reading Store's REST surface.
package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a submission carries no credential
	ErrUnauthorized = errors.New("missing authorization header")
	// ErrConfiguration is returned when the store URL or service key is not set
	ErrConfiguration = errors.New("configuration error")
)

// UpstreamWriteError is returned when the store answers with a non-2xx status
type UpstreamWriteError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamWriteError) Error() string {
	return fmt.Sprintf("Failed to insert data: %s", e.Status)
}

// BodyError is returned when the submitted body is not parseable JSON
type BodyError struct {
	Err error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("could not parse request body: %v", e.Err)
}

func (e *BodyError) Unwrap() error {
	return e.Err
}
