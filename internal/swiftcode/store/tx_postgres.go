package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"swiftregistry/internal/swiftcode/ports"
	dErrors "swiftregistry/pkg/domain-errors"
	"swiftregistry/pkg/platform/tx"
)

const defaultTxTimeout = 30 * time.Second

// RunInTx executes fn in a serializable transaction. Hierarchy resolution
// reads and writes in the same unit of work, so it needs a stable snapshot.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.RecordStore) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	// Nested calls join the outer transaction.
	if _, ok := tx.From(ctx); ok {
		return fn(ctx, s)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx), s); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}
