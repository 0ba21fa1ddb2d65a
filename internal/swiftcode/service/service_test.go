package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"swiftregistry/internal/swiftcode/metrics"
	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
	"swiftregistry/internal/swiftcode/store"
	dErrors "swiftregistry/pkg/domain-errors"
	"swiftregistry/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemory
	cache   *fakeCache
	events  *fakePublisher
	metrics *metrics.Metrics
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.cache = newFakeCache()
	s.events = &fakePublisher{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.service = New(s.store,
		WithCache(s.cache),
		WithEventPublisher(s.events),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return fixed }),
	)
}

func (s *ServiceSuite) create(code, iso2 string) {
	s.T().Helper()
	_, err := s.service.Create(s.ctx, models.CreateRequest{
		Code:            code,
		InstitutionName: "Bank " + code[:4],
		Address:         "Main St 1",
		CountryISO2:     iso2,
		CountryName:     "poland",
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) mustGet(code string) *models.Record {
	s.T().Helper()
	r, err := s.store.Get(s.ctx, code)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) parentOf(code string) string {
	s.T().Helper()
	r, err := s.store.Get(s.ctx, code)
	s.Require().NoError(err)
	return r.ParentCode()
}

func (s *ServiceSuite) TestCreate() {
	s.Run("headquarters then branch links the branch", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		s.create("AAAABBCC123", "PL")

		s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC123"))
	})

	s.Run("branch then headquarters adopts the branch", func() {
		s.SetupTest()
		s.create("AAAABBCC123", "PL")
		s.Equal("", s.parentOf("AAAABBCC123"))

		s.create("AAAABBCCXXX", "PL")
		s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC123"))
	})

	s.Run("headquarters flag is derived from the code", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "pl")
		s.create("AAAABBCC", "pl")

		hq, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.True(hq.IsHeadquarters)
		s.Equal("PL", hq.CountryISO2)
		s.Equal("POLAND", hq.CountryName)

		s.Nil(hq.HeadquartersCode)

		short, err := s.store.Get(s.ctx, "AAAABBCC")
		s.Require().NoError(err)
		s.False(short.IsHeadquarters)
		s.Equal("AAAABBCCXXX", short.ParentCode())
	})

	s.Run("duplicate is a conflict and keeps the original", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")

		_, err := s.service.Create(s.ctx, models.CreateRequest{
			Code:            "AAAABBCCXXX",
			InstitutionName: "Other",
			Address:         "Elsewhere",
			CountryISO2:     "DE",
			CountryName:     "Germany",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		stored, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Equal("PL", stored.CountryISO2)
		s.Equal("Bank AAAA", stored.InstitutionName)
	})

	s.Run("malformed code is rejected", func() {
		s.SetupTest()
		_, err := s.service.Create(s.ctx, models.CreateRequest{Code: "ABC", CountryISO2: "PL"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Zero(s.store.Len())
	})

	s.Run("adoption takes every non-headquarters code under the prefix", func() {
		s.SetupTest()
		s.create("AAAABBCC123", "PL")
		s.create("AAAABBCC", "PL")
		s.create("AAAABBCCXXY", "PL")
		s.create("AAAABBCDXXX", "PL")
		s.create("AAAABBCCXXX", "PL")

		view, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		codes := make([]string, 0, len(view.Branches))
		for _, b := range view.Branches {
			codes = append(codes, b.Code)
		}
		s.Equal([]string{"AAAABBCC", "AAAABBCC123", "AAAABBCCXXY"}, codes)
		s.Nil(s.mustGet("AAAABBCDXXX").HeadquartersCode)
	})

	s.Run("headquarters-shaped code under the same prefix is not adopted", func() {
		s.SetupTest()
		s.create("ABCDEXXX", "PL")
		s.create("ABCDEXXXXXX", "PL")

		s.True(s.mustGet("ABCDEXXX").IsHeadquarters)
		s.Equal("", s.parentOf("ABCDEXXX"))

		view, err := s.service.Lookup(s.ctx, "ABCDEXXXXXX")
		s.Require().NoError(err)
		s.Empty(view.Branches)
	})

	s.Run("emits an event and counts the creation", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")

		events := s.events.all()
		s.Require().Len(events, 1)
		s.Equal(models.EventCodeCreated, events[0].Type)
		s.Equal("AAAABBCCXXX", events[0].Code)
		s.True(events[0].IsHeadquarters)
		s.NotEmpty(events[0].ID)
		s.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), events[0].OccurredAt)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.CodesCreated.WithLabelValues("headquarters")))
	})
}

func (s *ServiceSuite) TestLookup() {
	s.Run("headquarters lists its branches", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		s.create("AAAABBCC001", "PL")
		s.create("AAAABBCC002", "PL")
		s.create("AAAABBCC003", "PL")

		view, err := s.service.Lookup(s.ctx, "aaaabbccxxx ")
		s.Require().NoError(err)
		s.True(view.IsHeadquarters)
		s.Len(view.Branches, 3)
		for _, b := range view.Branches {
			s.False(b.IsHeadquarters)
			s.NotNil(b.Branches)
			s.Empty(b.Branches)
		}
	})

	s.Run("branch has no nested branches", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		s.create("AAAABBCC001", "PL")

		view, err := s.service.Lookup(s.ctx, "AAAABBCC001")
		s.Require().NoError(err)
		s.False(view.IsHeadquarters)
		s.NotNil(view.Branches)
		s.Empty(view.Branches)
	})

	s.Run("unknown code", func() {
		s.SetupTest()
		_, err := s.service.Lookup(s.ctx, "ZZZZZZZZXXX")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		de, _ := dErrors.As(err)
		s.Equal("SWIFT code ZZZZZZZZXXX not found.", de.Message)
	})

	s.Run("served from cache after the first read", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")

		_, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.True(s.cache.has("AAAABBCCXXX"))

		_, err = s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.CacheLookups.WithLabelValues("hit")))
	})

	s.Run("creating a branch invalidates the cached headquarters", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		_, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)

		s.create("AAAABBCC001", "PL")
		s.False(s.cache.has("AAAABBCCXXX"))

		view, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Len(view.Branches, 1)
	})
}

func (s *ServiceSuite) TestLookupByCountry() {
	s.Run("lists headquarters and branches flat", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		s.create("AAAABBCC001", "PL")
		s.create("DDDDEEFFXXX", "DE")

		view, err := s.service.LookupByCountry(s.ctx, "pl")
		s.Require().NoError(err)
		s.Equal("PL", view.CountryISO2)
		s.Equal("POLAND", view.CountryName)
		s.Require().Len(view.Records, 2)
		s.Equal("AAAABBCC001", view.Records[0].Code)
		s.Equal("AAAABBCCXXX", view.Records[1].Code)
		for _, r := range view.Records {
			s.Empty(r.Branches)
		}
	})

	s.Run("unknown country", func() {
		s.SetupTest()
		_, err := s.service.LookupByCountry(s.ctx, "US")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDelete() {
	s.Run("deleting a headquarters orphans its branches", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		s.create("AAAABBCC001", "PL")

		s.Require().NoError(s.service.Delete(s.ctx, "AAAABBCCXXX"))

		s.Equal("", s.parentOf("AAAABBCC001"))
		_, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("deleting a branch removes it from the headquarters view", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")
		s.create("AAAABBCC001", "PL")
		_, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)

		s.Require().NoError(s.service.Delete(s.ctx, "AAAABBCC001"))

		view, err := s.service.Lookup(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Empty(view.Branches)
	})

	s.Run("missing code", func() {
		s.SetupTest()
		err := s.service.Delete(s.ctx, "AAAABBCCXXX")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Empty(s.events.all())
	})
}

func (s *ServiceSuite) TestIngestBatch() {
	row := func(iso2, code, name, address, town, country string) []string {
		return []string{iso2, code, "BIC11", name, address, town, country, "Europe/Warsaw"}
	}

	s.Run("branch rows before their headquarters are linked", func() {
		s.SetupTest()
		result, err := s.service.IngestBatch(s.ctx, [][]string{
			row("pl", "AAAABBCC001", "BANK A", "BRANCH 1", "KRAKOW", "poland"),
			row("pl", "AAAABBCC002", "BANK A", "BRANCH 2", "", "poland"),
			row("pl", "AAAABBCCXXX", "BANK A", "", "WARSZAWA", "poland"),
		})
		s.Require().NoError(err)
		s.Equal(&IngestResult{Persisted: 3, Skipped: 0, Linked: 2}, result)

		s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC001"))
		s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC002"))

		hq, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Equal("WARSZAWA", hq.Address)
		b1, err := s.store.Get(s.ctx, "AAAABBCC001")
		s.Require().NoError(err)
		s.Equal("BRANCH 1, KRAKOW", b1.Address)
		s.Equal("PL", b1.CountryISO2)
		s.Equal("POLAND", b1.CountryName)
	})

	s.Run("blank and malformed codes are skipped", func() {
		s.SetupTest()
		result, err := s.service.IngestBatch(s.ctx, [][]string{
			row("PL", "", "NO CODE", "", "", "POLAND"),
			row("PL", "bad", "BAD", "", "", "POLAND"),
			{"PL"},
			row("PL", "AAAABBCCXXX", "BANK A", "MAIN", "", "POLAND"),
		})
		s.Require().NoError(err)
		s.Equal(1, result.Persisted)
		s.Equal(3, result.Skipped)
		s.Equal(1, s.store.Len())
	})

	s.Run("headquarters in a batch adopts stored orphans", func() {
		s.SetupTest()
		s.create("AAAABBCC001", "PL")

		result, err := s.service.IngestBatch(s.ctx, [][]string{
			row("PL", "AAAABBCCXXX", "BANK A", "MAIN", "", "POLAND"),
		})
		s.Require().NoError(err)
		s.Equal(1, result.Linked)
		s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC001"))
	})

	s.Run("branch in a batch links to a stored headquarters", func() {
		s.SetupTest()
		s.create("AAAABBCCXXX", "PL")

		_, err := s.service.IngestBatch(s.ctx, [][]string{
			row("PL", "AAAABBCC001", "BANK A", "MAIN", "", "POLAND"),
		})
		s.Require().NoError(err)
		s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC001"))
	})

	s.Run("re-ingesting linked rows counts no new links", func() {
		s.SetupTest()
		rows := [][]string{
			row("PL", "BANKPLPWXXX", "BANK P", "MAIN", "", "POLAND"),
			row("PL", "BANKPLPWBR2", "BANK P", "SIDE", "", "POLAND"),
		}
		first, err := s.service.IngestBatch(s.ctx, rows)
		s.Require().NoError(err)
		s.Equal(1, first.Linked)

		again, err := s.service.IngestBatch(s.ctx, [][]string{rows[1]})
		s.Require().NoError(err)
		s.Equal(&IngestResult{Persisted: 1, Skipped: 0, Linked: 0}, again)
		s.Equal("BANKPLPWXXX", s.parentOf("BANKPLPWBR2"))

		again, err = s.service.IngestBatch(s.ctx, rows)
		s.Require().NoError(err)
		s.Zero(again.Linked)
		s.Equal("BANKPLPWXXX", s.parentOf("BANKPLPWBR2"))
	})

	s.Run("publishes one batch event", func() {
		s.SetupTest()
		_, err := s.service.IngestBatch(s.ctx, [][]string{
			row("PL", "AAAABBCCXXX", "BANK A", "MAIN", "", "POLAND"),
			row("PL", "AAAABBCC001", "BANK A", "MAIN", "", "POLAND"),
		})
		s.Require().NoError(err)

		events := s.events.all()
		s.Require().Len(events, 1)
		s.Equal(models.EventBatchIngested, events[0].Type)
		s.Equal(2, events[0].Count)
		s.Equal(float64(2), testutil.ToFloat64(s.metrics.RowsIngested))
	})
}

func (s *ServiceSuite) TestIngestWorkbookRejectsGarbage() {
	_, err := s.service.IngestWorkbook(s.ctx, strings.NewReader("not a workbook"))
	s.True(dErrors.HasCode(err, dErrors.CodeIngestion))
	s.Zero(s.store.Len())
}

func (s *ServiceSuite) TestReconcile() {
	// Records written behind the service's back carry no links.
	s.Require().NoError(s.store.PutAll(s.ctx, []*models.Record{
		models.NewRecord("AAAABBCC001", "BANK A", "", "PL", "POLAND"),
		models.NewRecord("AAAABBCCXXX", "BANK A", "", "PL", "POLAND"),
		models.NewRecord("DDDDEEFF001", "BANK D", "", "DE", "GERMANY"),
	}))

	linked, err := s.service.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, linked)
	s.Equal("AAAABBCCXXX", s.parentOf("AAAABBCC001"))
	s.Equal("", s.parentOf("DDDDEEFF001"))

	linked, err = s.service.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Zero(linked)
}

// interleavingTx runs after once, right after the first transaction it
// serves has committed.
type interleavingTx struct {
	ports.StoreTx
	after func()
}

func (t *interleavingTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.RecordStore) error) error {
	err := t.StoreTx.RunInTx(ctx, fn)
	if hook := t.after; hook != nil {
		t.after = nil
		hook()
	}
	return err
}

func (s *ServiceSuite) TestLookupDoesNotCacheViewInvalidatedWhileLoading() {
	s.create("HEADUS33XXX", "US")

	tx := &interleavingTx{StoreTx: s.store}
	svc := New(tx, WithCache(s.cache))
	tx.after = func() {
		_, err := svc.Create(s.ctx, models.CreateRequest{
			Code:            "HEADUS33BR1",
			InstitutionName: "Bank HEAD",
			Address:         "Side St 2",
			CountryISO2:     "US",
			CountryName:     "united states",
		})
		s.Require().NoError(err)
	}

	first, err := svc.Lookup(s.ctx, "HEADUS33XXX")
	s.Require().NoError(err)
	s.Empty(first.Branches, "read committed before the branch")
	s.False(s.cache.has("HEADUS33XXX"), "view loaded before the invalidation must not be cached")

	second, err := svc.Lookup(s.ctx, "HEADUS33XXX")
	s.Require().NoError(err)
	s.Require().Len(second.Branches, 1)
	s.Equal("HEADUS33BR1", second.Branches[0].Code)
	s.True(s.cache.has("HEADUS33XXX"))
}

func TestTranslate(t *testing.T) {
	coded := dErrors.New(dErrors.CodeNotFound, "gone")
	assert.Same(t, coded, translate(coded, "x"))
	assert.True(t, dErrors.HasCode(translate(context.DeadlineExceeded, "x"), dErrors.CodeTimeout))
	assert.True(t, dErrors.HasCode(translate(sentinel.ErrConflict, "x"), dErrors.CodeConflict))
	assert.True(t, dErrors.HasCode(translate(errors.New("boom"), "x"), dErrors.CodeInternal))
}

type fakeCache struct {
	mu     sync.Mutex
	views  map[string]*models.RecordView
	global int64
	gens   map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		views: make(map[string]*models.RecordView),
		gens:  make(map[string]int64),
	}
}

func (c *fakeCache) FindDetailed(_ context.Context, code string) (*models.RecordView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return v, nil
}

func (c *fakeCache) Generation(_ context.Context, code string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(code), nil
}

func (c *fakeCache) generation(code string) int64 {
	if len(code) > 8 {
		code = code[:8]
	}
	return c.global + c.gens[code]
}

func (c *fakeCache) SaveDetailed(_ context.Context, view *models.RecordView, gen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(view.Code) != gen {
		return nil
	}
	c.views[view.Code] = view
	return nil
}

func (c *fakeCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(prefix) >= 8 {
		c.gens[prefix[:8]]++
	} else {
		c.global++
	}
	for code := range c.views {
		if strings.HasPrefix(code, prefix) {
			delete(c.views, code)
		}
	}
	return nil
}

func (c *fakeCache) has(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.views[code]
	return ok
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *fakePublisher) Publish(_ context.Context, event models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) all() []models.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeEvent(nil), p.events...)
}
