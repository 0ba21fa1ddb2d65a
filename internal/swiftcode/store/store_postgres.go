package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
	"swiftregistry/pkg/platform/sentinel"
	"swiftregistry/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const (
	selectColumns = `swift_code, bank_name, address, country_iso2, country_name, is_headquarter, headquarter_swift_code`

	upsertRecordSQL = `
INSERT INTO swift_codes (swift_code, bank_name, address, country_iso2, country_name, is_headquarter, headquarter_swift_code)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (swift_code) DO UPDATE SET
    bank_name = EXCLUDED.bank_name,
    address = EXCLUDED.address,
    country_iso2 = EXCLUDED.country_iso2,
    country_name = EXCLUDED.country_name,
    is_headquarter = EXCLUDED.is_headquarter,
    headquarter_swift_code = EXCLUDED.headquarter_swift_code`

	// PostgreSQL SQLSTATEs surfaced as conflicts.
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresStore persists records in PostgreSQL. Calls made with a context
// carrying a transaction (see pkg/platform/tx) run inside that transaction.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTxTimeout bounds transactions that arrive without a deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.txTimeout = d
	}
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, txTimeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the swift_codes table and its indexes if missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply swift_codes schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) conn(ctx context.Context) tx.Querier {
	return tx.Conn(ctx, s.db)
}

func (s *PostgresStore) Get(ctx context.Context, code string) (*models.Record, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM swift_codes WHERE swift_code = $1`, code)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find swift code %s: %w", code, err)
	}
	return record, nil
}

func (s *PostgresStore) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM swift_codes WHERE swift_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check swift code %s: %w", code, err)
	}
	return exists, nil
}

func (s *PostgresStore) FindByCountry(ctx context.Context, iso2 string) ([]*models.Record, error) {
	return s.query(ctx, "find by country",
		`SELECT `+selectColumns+` FROM swift_codes WHERE country_iso2 = $1 ORDER BY swift_code`, iso2)
}

func (s *PostgresStore) FindByPrefix(ctx context.Context, prefix string) ([]*models.Record, error) {
	return s.query(ctx, "find by prefix",
		`SELECT `+selectColumns+` FROM swift_codes WHERE swift_code LIKE $1 ESCAPE '\' ORDER BY swift_code`,
		likeEscaper.Replace(prefix)+"%")
}

func (s *PostgresStore) FindByParent(ctx context.Context, hqCode string) ([]*models.Record, error) {
	return s.query(ctx, "find by parent",
		`SELECT `+selectColumns+` FROM swift_codes WHERE headquarter_swift_code = $1 ORDER BY swift_code`, hqCode)
}

func (s *PostgresStore) Put(ctx context.Context, record *models.Record) error {
	_, err := s.conn(ctx).ExecContext(ctx, upsertRecordSQL, recordArgs(record)...)
	if err != nil {
		return mapError(fmt.Errorf("save swift code %s: %w", record.Code, err))
	}
	return nil
}

// PutAll writes every record through one prepared statement. Without an
// ambient transaction it opens its own so the batch lands atomically.
func (s *PostgresStore) PutAll(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if _, ok := tx.From(ctx); !ok {
		return s.RunInTx(ctx, func(ctx context.Context, store ports.RecordStore) error {
			return store.PutAll(ctx, records)
		})
	}

	stmt, err := s.conn(ctx).PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare batch upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, recordArgs(r)...); err != nil {
			return mapError(fmt.Errorf("save swift code %s: %w", r.Code, err))
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, code string) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM swift_codes WHERE swift_code = $1`, code)
	if err != nil {
		return false, mapError(fmt.Errorf("delete swift code %s: %w", code, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete swift code %s: %w", code, err)
	}
	return n > 0, nil
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...any) ([]*models.Record, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	records := make([]*models.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		r  models.Record
		hq sql.NullString
	)
	if err := row.Scan(&r.Code, &r.InstitutionName, &r.Address, &r.CountryISO2, &r.CountryName, &r.IsHeadquarters, &hq); err != nil {
		return nil, err
	}
	if hq.Valid {
		r.HeadquartersCode = &hq.String
	}
	return &r, nil
}

func recordArgs(r *models.Record) []any {
	var hq sql.NullString
	if r.HeadquartersCode != nil {
		hq = sql.NullString{String: *r.HeadquartersCode, Valid: true}
	}
	return []any{r.Code, r.InstitutionName, r.Address, r.CountryISO2, r.CountryName, r.IsHeadquarters, hq}
}

func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation, pgSerializationFailure:
			return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %v", sentinel.ErrNotFound, err)
		}
	}
	return err
}
