package review

import (
	"context"
	"errors"
)

// ErrStore marks record store failures. Pipeline stages wrap store errors
// with it; they are the only fatal errors of a run.
var ErrStore = errors.New("record store")

// Store is the persistence interface for review entries. Insert is the
// idempotency guard and must be atomic: concurrent inserts of the same ID
// yield exactly one true.
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, rec *Record) (inserted bool, err error)
	UpdateAnalysis(ctx context.Context, id string, a Analysis) (updated bool, err error)
	Get(ctx context.Context, id string) (*Entry, bool, error)
	AllRecords(ctx context.Context) ([]Entry, error)
	History(ctx context.Context, limit int) ([]Entry, error)
}
