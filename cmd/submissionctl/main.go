package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/isotope-submissions-api/internal/bootstrap"
	"github.com/noah-isme/isotope-submissions-api/pkg/config"
	"github.com/noah-isme/isotope-submissions-api/pkg/logger"
)

const programName = "submissionctl"

// errIssuesFound makes reconcile exit non-zero without printing a usage error.
var errIssuesFound = errors.New("inconsistencies found")

type globalOptions struct {
	backend   string
	dataDir   string
	exportDir string
	verbose   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errIssuesFound) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Operator tooling for the isotope submission store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "override STORAGE_BACKEND (csv, sqlite, postgres)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "override DATA_DIR")
	root.PersistentFlags().StringVar(&opts.exportDir, "export-dir", "", "override EXPORT_DIR")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(reconcileCommand(opts))
	root.AddCommand(exportCommand(opts))
	root.AddCommand(publishCommand(opts))
	root.AddCommand(idsCommand())
	return root
}

// openApp loads configuration, applies flag overrides and wires the store.
// Background workers are never started from the CLI.
func openApp(ctx context.Context, opts *globalOptions) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.backend != "" {
		cfg.Storage.Backend = opts.backend
	}
	if opts.dataDir != "" {
		cfg.Storage.DataDir = opts.dataDir
	}
	if opts.exportDir != "" {
		cfg.Export.Dir = opts.exportDir
	}
	cfg.Email.Enabled = false

	logr := zap.NewNop()
	if opts.verbose {
		if logr, err = logger.New(cfg); err != nil {
			return nil, fmt.Errorf("failed to init logger: %w", err)
		}
	}
	return bootstrap.New(ctx, cfg, logr)
}
