// Package recordstore provides the record-store collaborator used by airtable steps.
package recordstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound indicates the upstream store has no record with the given id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrNotConfigured indicates the client was built without credentials.
	ErrNotConfigured = errors.New("record store is not configured")
)

// Client creates and updates records in an external table store.
type Client interface {
	Create(ctx context.Context, table string, fields map[string]any) (string, error)
	Update(ctx context.Context, table, recordID string, fields map[string]any) (string, error)
}

// HTTPError is returned for any non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("record store responded with status %d", e.StatusCode)
	}

	return fmt.Sprintf("record store responded with status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err means the record does not exist upstream.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
