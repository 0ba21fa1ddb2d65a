package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swiftregistry/internal/platform/config"
	"swiftregistry/internal/swiftcode/ingest"
	dErrors "swiftregistry/pkg/domain-errors"
)

func buildMemoryApp(t *testing.T) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Build(context.Background(), config.Server{}, logger, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuildWithoutBackends(t *testing.T) {
	a := buildMemoryApp(t)

	assert.NotNil(t, a.Service)
	assert.Empty(t, a.Checks)
	assert.Equal(t, float64(1), testutil.ToFloat64(a.process.BuildInfo.WithLabelValues("test", "memory", "disabled", "disabled")))
}

func TestSeed(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is skipped", func(t *testing.T) {
		a := buildMemoryApp(t)
		require.NoError(t, a.Seed(ctx, filepath.Join(t.TempDir(), "absent.xlsx")))
	})

	t.Run("empty path is a no-op", func(t *testing.T) {
		a := buildMemoryApp(t)
		require.NoError(t, a.Seed(ctx, ""))
	})

	t.Run("workbook is ingested", func(t *testing.T) {
		a := buildMemoryApp(t)
		buf, err := ingest.BuildWorkbook([][]string{
			{"PL", "AAAABBCCXXX", "BIC11", "BANK A", "MAIN ST 1", "WARSZAWA", "POLAND", "Europe/Warsaw"},
			{"PL", "AAAABBCC001", "BIC11", "BANK A", "SIDE ST 2", "KRAKOW", "POLAND", "Europe/Warsaw"},
		})
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "seed.xlsx")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

		require.NoError(t, a.Seed(ctx, path))

		view, err := a.Service.Lookup(ctx, "AAAABBCCXXX")
		require.NoError(t, err)
		assert.Len(t, view.Branches, 1)
		assert.Equal(t, float64(2), testutil.ToFloat64(a.process.SeedRows))
	})

	t.Run("corrupt workbook fails", func(t *testing.T) {
		a := buildMemoryApp(t)
		path := filepath.Join(t.TempDir(), "seed.xlsx")
		require.NoError(t, os.WriteFile(path, []byte("not a workbook"), 0o600))

		err := a.Seed(ctx, path)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIngestion))
	})
}
