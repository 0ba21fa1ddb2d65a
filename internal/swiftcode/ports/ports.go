// Package ports defines the interfaces shared by the swiftcode service and its
// adapters. Stores, caches and publishers implement them; the service only
// depends on this package.
package ports

import (
	"context"

	"swiftregistry/internal/swiftcode/models"
)

// RecordStore is durable keyed storage of SWIFT code records.
// Implementations return sentinel.ErrNotFound from Get when the code is absent
// and never hand out records that alias their internal state.
type RecordStore interface {
	// Get returns the record stored under code.
	Get(ctx context.Context, code string) (*models.Record, error)

	// Exists reports whether code is stored.
	Exists(ctx context.Context, code string) (bool, error)

	// FindByCountry returns records whose country code equals iso2 exactly.
	FindByCountry(ctx context.Context, iso2 string) ([]*models.Record, error)

	// FindByPrefix returns records whose code starts with prefix.
	FindByPrefix(ctx context.Context, prefix string) ([]*models.Record, error)

	// FindByParent returns the branches linked to hqCode.
	FindByParent(ctx context.Context, hqCode string) ([]*models.Record, error)

	// Put inserts or fully replaces the record keyed by its code.
	Put(ctx context.Context, record *models.Record) error

	// PutAll inserts or replaces every record.
	PutAll(ctx context.Context, records []*models.Record) error

	// Delete removes code and clears it as parent of any branch.
	// Returns false when nothing was stored under code.
	Delete(ctx context.Context, code string) (bool, error)
}

// StoreTx runs fn as one atomic unit of work. Everything fn writes through
// the supplied store is committed together or not at all.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store RecordStore) error) error
}

// DetailCache caches detailed projections keyed by code.
type DetailCache interface {
	// FindDetailed returns sentinel.ErrNotFound on a miss.
	FindDetailed(ctx context.Context, code string) (*models.RecordView, error)
	// Generation returns the invalidation counter covering code. Read it
	// before loading the view that will be passed to SaveDetailed.
	Generation(ctx context.Context, code string) (int64, error)
	// SaveDetailed stores view only if code's generation still equals gen.
	// A view loaded before an invalidation is dropped without error.
	SaveDetailed(ctx context.Context, view *models.RecordView, gen int64) error
	// InvalidatePrefix bumps the generation and drops every cached
	// projection whose code starts with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// EventPublisher emits committed registry changes.
type EventPublisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}
