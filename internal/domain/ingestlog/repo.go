package ingestlog

import (
	"context"
	"time"
)

// EntryRepository is append-only.
type EntryRepository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Entry, int, error)
	Stats(ctx context.Context, sourceID string, since time.Time) (*Stats, error)
}
