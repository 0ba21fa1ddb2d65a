package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"swiftregistry/internal/swiftcode/ingest"
	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
	dErrors "swiftregistry/pkg/domain-errors"
)

// Column positions of a raw ingestion row. Columns 2 (code type) and 7
// (time zone) are ignored.
const (
	colCountryISO2 = 0
	colCode        = 1
	colName        = 3
	colAddress     = 4
	colTown        = 5
	colCountryName = 6
)

// IngestResult summarizes one bulk ingestion batch.
type IngestResult struct {
	Persisted int `json:"persisted"`
	Skipped   int `json:"skipped"`
	Linked    int `json:"linked"`
}

// RecordFromRow builds a record from a raw row. ok is false for rows whose
// code is blank or not a well-formed SWIFT code.
func RecordFromRow(row []string) (*models.Record, bool) {
	code := strings.TrimSpace(cell(row, colCode))
	if code == "" || !models.ValidateFormat(code) {
		return nil, false
	}

	address := strings.TrimSpace(cell(row, colAddress))
	if town := strings.TrimSpace(cell(row, colTown)); town != "" {
		if address == "" {
			address = town
		} else {
			address = address + ", " + town
		}
	}

	return models.NewRecord(
		code,
		cell(row, colName),
		address,
		cell(row, colCountryISO2),
		cell(row, colCountryName),
	), true
}

// BuildBatch converts raw rows into records. A code repeated in the batch
// keeps its first position and its last row's values.
func BuildBatch(rows [][]string) ([]*models.Record, int) {
	records := make([]*models.Record, 0, len(rows))
	index := make(map[string]int, len(rows))
	skipped := 0
	for _, row := range rows {
		record, ok := RecordFromRow(row)
		if !ok {
			skipped++
			continue
		}
		if i, dup := index[record.Code]; dup {
			records[i] = record
			continue
		}
		index[record.Code] = len(records)
		records = append(records, record)
	}
	return records, skipped
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

// IngestBatch persists every valid row and then links branches to their
// headquarters, all in one transaction. Row order does not matter.
func (s *Service) IngestBatch(ctx context.Context, rows [][]string) (result *IngestResult, err error) {
	ctx, end := s.startSpan(ctx, "swiftcode.IngestBatch", "")
	defer func() { end(err) }()
	start := time.Now()

	records, skipped := BuildBatch(rows)
	linked := 0
	err = s.tx.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
		if err := carryLinks(ctx, store, records); err != nil {
			return err
		}
		if err := store.PutAll(ctx, records); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		var err error
		linked, err = reconcileBatch(ctx, store, records)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "bulk ingestion failed",
			"rows", len(rows),
			"error", err,
		)
		return nil, translate(err, "failed to ingest SWIFT codes")
	}

	result = &IngestResult{Persisted: len(records), Skipped: skipped, Linked: linked}
	s.invalidate(ctx, "")
	s.publish(ctx, models.ChangeEvent{Type: models.EventBatchIngested, Count: result.Persisted})
	if s.metrics != nil {
		s.metrics.RecordIngest(result.Persisted, result.Skipped, start)
		s.metrics.AddLinked(result.Linked)
	}
	s.logger.InfoContext(ctx, "SWIFT codes ingested",
		"persisted", result.Persisted,
		"skipped", result.Skipped,
		"linked", result.Linked,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// IngestWorkbook reads an .xlsx workbook and ingests its first sheet. An
// unreadable workbook aborts before anything is written.
func (s *Service) IngestWorkbook(ctx context.Context, r io.Reader) (*IngestResult, error) {
	rows, err := ingest.ReadWorkbook(r)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse Excel file", "error", err)
		if errors.Is(err, ingest.ErrUnreadableWorkbook) {
			return nil, dErrors.Wrap(err, dErrors.CodeIngestion, "failed to parse Excel file")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read Excel file")
	}
	return s.IngestBatch(ctx, rows)
}

// Reconcile re-runs hierarchy linking over every stored record. It is
// idempotent and heals links left missing by an interrupted load.
func (s *Service) Reconcile(ctx context.Context) (linked int, err error) {
	ctx, end := s.startSpan(ctx, "swiftcode.Reconcile", "")
	defer func() { end(err) }()

	err = s.tx.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
		all, err := store.FindByPrefix(ctx, "")
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		hqPresent := make(map[string]bool)
		for _, r := range all {
			if r.IsHeadquarters {
				hqPresent[r.Code] = true
			}
		}
		updates := PlanLinks(all, hqPresent)
		linked = len(updates)
		return applyLinks(ctx, store, updates)
	})
	if err != nil {
		return 0, translate(err, "failed to reconcile SWIFT codes")
	}

	if linked > 0 {
		s.invalidate(ctx, "")
		if s.metrics != nil {
			s.metrics.AddLinked(linked)
		}
	}
	s.logger.InfoContext(ctx, "SWIFT code hierarchy reconciled", "linked", linked)
	return linked, nil
}
