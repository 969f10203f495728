// Package storage persists the upload history ledger.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an upload id is unknown.
var ErrNotFound = errors.New("upload not found")

// UploadEntry records one upload attempt.
type UploadEntry struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Protocol   string    `json:"protocol"`
	OK         bool      `json:"ok"`
	Message    string    `json:"message"`
	Bytes      int64     `json:"bytes"`
	Records    int       `json:"records"`
	Checksum   string    `json:"checksum,omitempty"`
}

// History stores upload entries.
type History interface {
	Record(ctx context.Context, e *UploadEntry) error
	Get(ctx context.Context, id string) (*UploadEntry, error)
	// List returns entries newest first.
	List(ctx context.Context, offset, limit int) ([]*UploadEntry, error)
	Count(ctx context.Context) (total, failed int64, err error)
	Close() error
}
