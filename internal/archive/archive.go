// Package archive persists delivered transcripts so operators can review what
// the relay sent and what the endpoint answered.
//
// Two [Store] implementations exist: sqlite (a local file, the default) and
// postgres. A [Recorder] sits between the relay and the store and keeps a
// failing database from affecting delivery.
package archive

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidRecord is returned by Append for records without text.
var ErrInvalidRecord = errors.New("archive: record has no text")

// Record is one delivered transcript.
type Record struct {
	// ID is assigned by the store.
	ID int64

	RunID     string
	SegmentID int
	Text      string

	// Reply is the endpoint's answer, empty if it hung up instead.
	Reply string

	PublishedAt time.Time
	DeliveredAt time.Time
}

// Store persists records.
type Store interface {
	// Append inserts r and returns its ID.
	Append(ctx context.Context, r Record) (int64, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases the underlying connection.
	Close() error
}

// Validate checks r before it is written.
func (r Record) Validate() error {
	if r.Text == "" {
		return ErrInvalidRecord
	}
	return nil
}
