package cli

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/defuse/internal/pipeline"
	"github.com/ppiankov/defuse/internal/table"
)

func (a *app) runCmd() *cobra.Command {
	var (
		in        string
		responses string
		workDir   string
		stages    []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a chain of stages, saving every intermediate table",
		Long: `Run executes stages in order. The input and the output of every stage are
written to the work directory (docs_0.csv, docs_1.csv, ..., qrc_1.csv, ...),
so a failing stage leaves the completed ones on disk. The metrics stage
writes qrc_out.csv, qrc_filter.csv and metrics.txt.

Example:
  defuse run --in docs.csv --work ./work
  defuse run --in docs_6.csv --responses qrc_1.csv --work ./work --stages detect,defuse,metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" && responses == "" {
				return eris.New("need --in, --responses or both")
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}

			var tables pipeline.Tables
			if in != "" {
				if tables.Docs, err = table.ReadFile(in); err != nil {
					return err
				}
			}
			if responses != "" {
				if tables.QR, err = table.ReadFile(responses); err != nil {
					return err
				}
			}

			errOut := cmd.ErrOrStderr()
			fmt.Fprintf(errOut, "\n")
			fmt.Fprintf(errOut, "═══════════════════════════════════════════════════════════\n")
			fmt.Fprintf(errOut, "  Defuse Run %s\n", a.runID)
			fmt.Fprintf(errOut, "═══════════════════════════════════════════════════════════\n")
			fmt.Fprintf(errOut, "  Stages:    %v\n", stages)
			fmt.Fprintf(errOut, "  Work dir:  %s\n", workDir)
			fmt.Fprintf(errOut, "\n")

			_, summary, err := p.Chain(cmd.Context(), workDir, stages, tables)
			if err != nil {
				fmt.Fprintf(errOut, "✗ run stopped, completed tables are in %s\n", workDir)
				return err
			}
			if summary != nil {
				fmt.Fprint(cmd.OutOrStdout(), summary.Text())
			}
			fmt.Fprintf(errOut, "✓ run complete: %s\n", workDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "document table (CSV)")
	cmd.Flags().StringVar(&responses, "responses", "", "response table (CSV) to resume from")
	cmd.Flags().StringVar(&workDir, "work", "", "work directory for intermediate tables")
	cmd.Flags().StringSliceVar(&stages, "stages", pipeline.DefaultChain, "stages to run, in order")
	_ = cmd.MarkFlagRequired("work")
	return cmd
}

func (a *app) metricsCmd() *cobra.Command {
	var in, filter, out string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Count detections and defusions in a response table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			qr, err := table.ReadFile(in)
			if err != nil {
				return err
			}
			filtered, summary, err := pipeline.ComputeMetrics(qr, cfg.Schema.Responses)
			if err != nil {
				return err
			}

			if filter != "" {
				if err := filtered.WriteFile(filter); err != nil {
					return err
				}
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(summary.Text()), 0o644); err != nil {
					return eris.Wrapf(err, "write %s", out)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), summary.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "response table with detection and defusion columns (CSV)")
	cmd.Flags().StringVar(&filter, "filter", "", "write detected but undefused confusing questions here")
	cmd.Flags().StringVar(&out, "out", "", "write the summary here")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
