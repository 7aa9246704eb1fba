package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/isotope-submissions-api/internal/idgen"
	"github.com/noah-isme/isotope-submissions-api/internal/service"
	"github.com/noah-isme/isotope-submissions-api/pkg/storage"
)

func reconcileCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Cross-check submissions against approved measurements",
		Long:  "Prints the reconciliation report as JSON and exits 1 when any inconsistency is found. Nothing is repaired.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context()) //nolint:errcheck

			report, err := app.Reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Consistent() {
				return errIssuesFound
			}
			return nil
		},
	}
}

func exportCommand(opts *globalOptions) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render approved measurements as CSV or PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context()) //nolint:errcheck

			artifact, err := app.Exports.Render(cmd.Context(), format)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(artifact.Data)
				return err
			}
			if err := storage.WriteFileAtomic(out, artifact.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d records to %s\n", artifact.Records, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", service.FormatCSV, "csv or pdf")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func publishCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish CSV and PDF exports to the configured target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context()) //nolint:errcheck

			result, err := app.Exports.Publish(cmd.Context())
			if err != nil {
				return err
			}
			for _, location := range result.Locations {
				fmt.Fprintln(cmd.OutOrStdout(), location)
			}
			return nil
		},
	}
}

func idsCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Print freshly generated submission identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			gen := idgen.New()
			for i := 0; i < count; i++ {
				fmt.Fprintln(cmd.OutOrStdout(), gen.NewID())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of identifiers")
	return cmd
}
