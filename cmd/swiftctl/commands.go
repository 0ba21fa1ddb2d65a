package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"swiftregistry/internal/app"
	"swiftregistry/internal/platform/config"
	"swiftregistry/internal/platform/logger"
	"swiftregistry/internal/swiftcode/handler"
	"swiftregistry/internal/swiftcode/ingest"
	"swiftregistry/internal/swiftcode/models"
)

// builder opens the registry for one command invocation.
type builder func(ctx context.Context, cfg config.Server, log *slog.Logger) (*app.App, error)

func buildApp(ctx context.Context, cfg config.Server, log *slog.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, log, version)
}

type cli struct {
	build       builder
	databaseURL string
	logLevel    string
}

// newRootCmd assembles the command tree. A nil build opens the configured
// backends.
func newRootCmd(build builder) *cobra.Command {
	if build == nil {
		build = buildApp
	}
	c := &cli{build: build}

	root := &cobra.Command{
		Use:           "swiftctl",
		Short:         "Load and inspect the SWIFT code registry",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.databaseURL, "database-url", "", "PostgreSQL URL (defaults to DATABASE_URL)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		c.ingestCmd(),
		c.lookupCmd(),
		c.countryCmd(),
		c.exportCmd(),
		c.reconcileCmd(),
	)
	return root
}

// open builds the registry from the environment plus command line overrides.
func (c *cli) open(cmd *cobra.Command) (*app.App, error) {
	cfg := config.FromEnv()
	if c.databaseURL != "" {
		cfg.Database.URL = c.databaseURL
	}
	cfg.Log.Level = c.logLevel
	cfg.Log.Format = "text"
	log := logger.New(cfg.Log)
	if cfg.Database.URL == "" {
		log.Warn("no database configured, changes are discarded on exit")
	}
	return c.build(cmd.Context(), cfg, log)
}

func (c *cli) ingestCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest an .xlsx workbook of SWIFT codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open workbook: %w", err)
			}
			defer f.Close()

			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Service.IngestWorkbook(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d records (%d skipped, %d branches linked)\n",
				result.Persisted, result.Skipped, result.Linked)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the workbook")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup CODE",
		Short: "Print a SWIFT code with its branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Service.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), handler.FromView(view))
		},
	}
}

func (c *cli) countryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "country ISO2",
		Short: "List the SWIFT codes of a country",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Service.LookupByCountry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), handler.FromCountryView(view))
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export ISO2",
		Short: "Write the SWIFT codes of a country to an .xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Service.LookupByCountry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			buf, err := ingest.BuildWorkbook(exportRows(view))
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(view.Records), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "swift_codes.xlsx", "output path")
	return cmd
}

// exportRows lays records out in the ingestion column order. The address
// already carries the town, so the town column stays empty.
func exportRows(view *models.CountryView) [][]string {
	rows := make([][]string, 0, len(view.Records))
	for _, r := range view.Records {
		rows = append(rows, []string{
			r.CountryISO2, r.Code, "BIC11", r.InstitutionName, r.Address, "", r.CountryName, "",
		})
	}
	return rows
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Link every orphaned branch whose headquarters is registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			linked, err := a.Service.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "linked %d branches\n", linked)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
