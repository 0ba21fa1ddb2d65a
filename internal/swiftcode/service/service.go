package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"swiftregistry/internal/swiftcode/metrics"
	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
	dErrors "swiftregistry/pkg/domain-errors"
	"swiftregistry/pkg/platform/sentinel"
)

const tracerName = "swiftregistry/internal/swiftcode/service"

// Service resolves the SWIFT code hierarchy and serves projections of it.
// Every public operation runs as one unit of work through the StoreTx.
type Service struct {
	tx      ports.StoreTx
	cache   ports.DetailCache
	events  ports.EventPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache enables the detailed projection cache.
func WithCache(cache ports.DetailCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithEventPublisher emits a change event after every committed mutation.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New constructs a Service.
func New(tx ports.StoreTx, opts ...Option) *Service {
	s := &Service{tx: tx, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Lookup returns the detailed projection of code, branches nested.
func (s *Service) Lookup(ctx context.Context, code string) (view *models.RecordView, err error) {
	code = normalizeCode(code)
	ctx, end := s.startSpan(ctx, "swiftcode.Lookup", code)
	defer func() { end(err) }()
	if s.metrics != nil {
		defer s.metrics.ObserveLookup("code", time.Now())
	}

	if cached := s.cachedDetail(ctx, code); cached != nil {
		return cached, nil
	}
	gen, cacheable := s.cacheGeneration(ctx, code)

	err = s.tx.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
		record, err := store.Get(ctx, code)
		if err != nil {
			return err
		}
		view, err = ToDetailed(ctx, store, record)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("SWIFT code %s not found.", code))
		}
		return nil, translate(err, "failed to load SWIFT code")
	}

	if cacheable {
		s.storeDetail(ctx, view, gen)
	}
	return view, nil
}

// LookupByCountry lists every record of a country as flat projections,
// headquarters and branches alike.
func (s *Service) LookupByCountry(ctx context.Context, countryISO2 string) (view *models.CountryView, err error) {
	iso2 := models.NormalizeCountry(countryISO2)
	ctx, end := s.startSpan(ctx, "swiftcode.LookupByCountry", "")
	defer func() { end(err) }()
	if s.metrics != nil {
		defer s.metrics.ObserveLookup("country", time.Now())
	}

	var records []*models.Record
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
		var err error
		records, err = store.FindByCountry(ctx, iso2)
		return err
	})
	if err != nil {
		return nil, translate(err, "failed to list SWIFT codes")
	}
	if len(records) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("No SWIFT codes found for country code %s", countryISO2))
	}

	view = &models.CountryView{
		CountryISO2: iso2,
		CountryName: records[0].CountryName,
		Records:     make([]*models.RecordView, 0, len(records)),
	}
	for _, r := range records {
		view.Records = append(view.Records, ToBasic(r))
	}
	return view, nil
}

// Create registers a new code and links it into the hierarchy. A code that is
// already stored is rejected and the stored record is left untouched.
func (s *Service) Create(ctx context.Context, req models.CreateRequest) (code string, err error) {
	code = strings.TrimSpace(req.Code)
	ctx, end := s.startSpan(ctx, "swiftcode.Create", code)
	defer func() { end(err) }()

	if !models.ValidateFormat(code) {
		return "", dErrors.New(dErrors.CodeValidation, "SWIFT code must be 8 or 11 alphanumeric characters.")
	}
	if len(models.NormalizeCountry(req.CountryISO2)) != 2 {
		return "", dErrors.New(dErrors.CodeValidation, "Country ISO2 code must be exactly 2 characters.")
	}

	record := models.NewRecord(code, req.InstitutionName, req.Address, req.CountryISO2, req.CountryName)
	linked := 0
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
		exists, err := store.Exists(ctx, code)
		if err != nil {
			return fmt.Errorf("check swift code %s: %w", code, err)
		}
		if exists {
			return dErrors.New(dErrors.CodeConflict, "SWIFT code already exists.")
		}
		linked, err = saveWithHierarchy(ctx, store, record)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent insert of the same code won the race.
			err = dErrors.Wrap(err, dErrors.CodeConflict, "SWIFT code already exists.")
		}
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			s.logger.WarnContext(ctx, "duplicate SWIFT code rejected", "swift_code", code)
		} else {
			s.logger.ErrorContext(ctx, "failed to create SWIFT code",
				"swift_code", code,
				"error", err,
			)
		}
		return "", translate(err, "failed to create SWIFT code")
	}

	s.invalidateInstitution(ctx, code)
	s.publish(ctx, models.ChangeEvent{Type: models.EventCodeCreated, Code: code, IsHeadquarters: record.IsHeadquarters})
	if s.metrics != nil {
		s.metrics.IncrementCreated(record.IsHeadquarters)
		s.metrics.AddLinked(linked)
	}
	s.logger.InfoContext(ctx, "SWIFT code created",
		"swift_code", code,
		"headquarters", record.IsHeadquarters,
		"linked", linked,
	)
	return code, nil
}

// Delete removes code. Branches of a deleted headquarters become orphans.
func (s *Service) Delete(ctx context.Context, code string) (err error) {
	code = normalizeCode(code)
	ctx, end := s.startSpan(ctx, "swiftcode.Delete", code)
	defer func() { end(err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
		deleted, err := store.Delete(ctx, code)
		if err != nil {
			return fmt.Errorf("delete swift code %s: %w", code, err)
		}
		if !deleted {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("SWIFT code %s not found.", code))
		}
		return nil
	})
	if err != nil {
		return translate(err, "failed to delete SWIFT code")
	}

	s.invalidateInstitution(ctx, code)
	s.publish(ctx, models.ChangeEvent{Type: models.EventCodeDeleted, Code: code, IsHeadquarters: models.IsHeadquartersCode(code)})
	if s.metrics != nil {
		s.metrics.IncrementDeleted()
	}
	s.logger.InfoContext(ctx, "SWIFT code deleted", "swift_code", code)
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// translate converts store and infrastructure errors into domain errors.
// Errors that already carry a domain code pass through unchanged.
func translate(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "conflicting concurrent update, retry the request")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) startSpan(ctx context.Context, name, code string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if code != "" {
		span.SetAttributes(attribute.String("swift_code", code))
	}
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// cachedDetail returns a cached projection or nil. Cache failures only cost
// a store round trip.
func (s *Service) cachedDetail(ctx context.Context, code string) *models.RecordView {
	if s.cache == nil {
		return nil
	}
	view, err := s.cache.FindDetailed(ctx, code)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "detail cache read failed", "swift_code", code, "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(false)
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(true)
	}
	return view
}

// cacheGeneration reads the invalidation counter for code before the store
// is read. ok is false when the view must not be cached.
func (s *Service) cacheGeneration(ctx context.Context, code string) (gen int64, ok bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := s.cache.Generation(ctx, code)
	if err != nil {
		s.logger.WarnContext(ctx, "detail cache generation read failed", "swift_code", code, "error", err)
		return 0, false
	}
	return gen, true
}

func (s *Service) storeDetail(ctx context.Context, view *models.RecordView, gen int64) {
	if err := s.cache.SaveDetailed(ctx, view, gen); err != nil {
		s.logger.WarnContext(ctx, "detail cache write failed", "swift_code", view.Code, "error", err)
	}
}

// invalidateInstitution drops cached views of every code sharing code's
// prefix: the record itself, its headquarters and its siblings.
func (s *Service) invalidateInstitution(ctx context.Context, code string) {
	prefix, ok := models.InstitutionPrefix(code)
	if !ok {
		prefix = code
	}
	s.invalidate(ctx, prefix)
}

func (s *Service) invalidate(ctx context.Context, prefix string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(ctx, prefix); err != nil {
		s.logger.WarnContext(ctx, "detail cache invalidation failed", "prefix", prefix, "error", err)
	}
}

// publish emits a change event. Delivery failures are logged; the mutation
// has already committed.
func (s *Service) publish(ctx context.Context, event models.ChangeEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = s.now().UTC()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish change event",
			"event_type", event.Type,
			"swift_code", event.Code,
			"error", err,
		)
	}
}
