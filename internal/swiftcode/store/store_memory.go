package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
	"swiftregistry/pkg/platform/sentinel"
)

// InMemory keeps records in a map that is replaced, never mutated, on commit.
// Transactions read a snapshot of that map and buffer their writes, so readers
// never observe a partial unit of work.
type InMemory struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	records map[string]*models.Record
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*models.Record)}
}

func (s *InMemory) snapshot() *memoryTx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newMemoryTx(s.records)
}

func (s *InMemory) Get(ctx context.Context, code string) (*models.Record, error) {
	return s.snapshot().Get(ctx, code)
}

func (s *InMemory) Exists(ctx context.Context, code string) (bool, error) {
	return s.snapshot().Exists(ctx, code)
}

func (s *InMemory) FindByCountry(ctx context.Context, iso2 string) ([]*models.Record, error) {
	return s.snapshot().FindByCountry(ctx, iso2)
}

func (s *InMemory) FindByPrefix(ctx context.Context, prefix string) ([]*models.Record, error) {
	return s.snapshot().FindByPrefix(ctx, prefix)
}

func (s *InMemory) FindByParent(ctx context.Context, hqCode string) ([]*models.Record, error) {
	return s.snapshot().FindByParent(ctx, hqCode)
}

func (s *InMemory) Put(ctx context.Context, record *models.Record) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.RecordStore) error {
		return tx.Put(ctx, record)
	})
}

func (s *InMemory) PutAll(ctx context.Context, records []*models.Record) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx ports.RecordStore) error {
		return tx.PutAll(ctx, records)
	})
}

func (s *InMemory) Delete(ctx context.Context, code string) (bool, error) {
	var deleted bool
	err := s.RunInTx(ctx, func(ctx context.Context, tx ports.RecordStore) error {
		var err error
		deleted, err = tx.Delete(ctx, code)
		return err
	})
	return deleted, err
}

// RunInTx serializes units of work and publishes fn's writes only if it
// returns nil.
func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.RecordStore) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.snapshot()
	if err := fn(ctx, working); err != nil {
		return err
	}
	if !working.dirty() {
		return nil
	}

	next := working.merged()
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// memoryTx overlays buffered writes on an immutable base map.
type memoryTx struct {
	base    map[string]*models.Record
	writes  map[string]*models.Record
	deletes map[string]struct{}
}

func newMemoryTx(base map[string]*models.Record) *memoryTx {
	return &memoryTx{
		base:    base,
		writes:  make(map[string]*models.Record),
		deletes: make(map[string]struct{}),
	}
}

func (t *memoryTx) dirty() bool {
	return len(t.writes) > 0 || len(t.deletes) > 0
}

func (t *memoryTx) merged() map[string]*models.Record {
	out := make(map[string]*models.Record, len(t.base)+len(t.writes))
	for k, v := range t.base {
		if _, gone := t.deletes[k]; !gone {
			out[k] = v
		}
	}
	for k, v := range t.writes {
		out[k] = v
	}
	return out
}

func (t *memoryTx) lookup(code string) (*models.Record, bool) {
	if r, ok := t.writes[code]; ok {
		return r, true
	}
	if _, gone := t.deletes[code]; gone {
		return nil, false
	}
	r, ok := t.base[code]
	return r, ok
}

func (t *memoryTx) Get(_ context.Context, code string) (*models.Record, error) {
	r, ok := t.lookup(code)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (t *memoryTx) Exists(_ context.Context, code string) (bool, error) {
	_, ok := t.lookup(code)
	return ok, nil
}

func (t *memoryTx) FindByCountry(_ context.Context, iso2 string) ([]*models.Record, error) {
	return t.filter(func(r *models.Record) bool { return r.CountryISO2 == iso2 }), nil
}

func (t *memoryTx) FindByPrefix(_ context.Context, prefix string) ([]*models.Record, error) {
	return t.filter(func(r *models.Record) bool { return strings.HasPrefix(r.Code, prefix) }), nil
}

func (t *memoryTx) FindByParent(_ context.Context, hqCode string) ([]*models.Record, error) {
	return t.filter(func(r *models.Record) bool { return r.ParentCode() == hqCode }), nil
}

func (t *memoryTx) Put(_ context.Context, record *models.Record) error {
	if hq := record.ParentCode(); hq != "" {
		if _, ok := t.lookup(hq); !ok {
			return sentinel.ErrNotFound
		}
	}
	delete(t.deletes, record.Code)
	t.writes[record.Code] = record.Clone()
	return nil
}

func (t *memoryTx) PutAll(ctx context.Context, records []*models.Record) error {
	for _, r := range records {
		if err := t.Put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, code string) (bool, error) {
	if _, ok := t.lookup(code); !ok {
		return false, nil
	}
	children, _ := t.FindByParent(ctx, code)

	delete(t.writes, code)
	t.deletes[code] = struct{}{}
	for _, child := range children {
		child.ClearHeadquarters()
		t.writes[child.Code] = child
	}
	return true, nil
}

func (t *memoryTx) filter(match func(*models.Record) bool) []*models.Record {
	out := make([]*models.Record, 0)
	for code, r := range t.base {
		if _, shadowed := t.writes[code]; shadowed {
			continue
		}
		if _, gone := t.deletes[code]; gone {
			continue
		}
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	for _, r := range t.writes {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
