package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/pipeline"
	"github.com/ppiankov/defuse/internal/table"
)

func (a *app) stagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List pipeline stages and their column contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tTABLES\tREQUIRES\tPRODUCES\tDESCRIPTION")
			for _, s := range p.Stages() {
				produces := strings.Join(s.Produces, ",")
				if produces == "" {
					produces = "-"
				}
				fmt.Fprintf(w, "%s\t%s->%s\t%s\t%s\t%s\n",
					s.Name, s.Input, s.Output, strings.Join(s.Requires, ","), produces, s.Description)
			}
			return w.Flush()
		},
	}
}

type stageFlags struct {
	in     string
	out    string
	docs   string
	source string
	target string
}

func (a *app) stageCmd() *cobra.Command {
	var f stageFlags
	cmd := &cobra.Command{
		Use:   "stage <name>",
		Short: "Run a single stage on a CSV table",
		Long: `Run one stage and write the enriched table.

Document stages (record, reduce, modify, expand, questions, confuse) read and
write a document table. respond reads a document table and writes a new
response table. detect and defuse read a response table and need the
document table passed with --docs.

Example:
  defuse stage record --in docs.csv --out docs_1.csv
  defuse stage questions --in docs.csv --out docs_q.csv --source expand_doc --target expand_questions
  defuse stage detect --in qrc_1.csv --docs docs_6.csv --out qrc_2.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStage(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.in, "in", "", "input table (CSV)")
	cmd.Flags().StringVar(&f.out, "out", "", "output table (CSV)")
	cmd.Flags().StringVar(&f.docs, "docs", "", "document table for detect and defuse")
	cmd.Flags().StringVar(&f.source, "source", "", "questions: column holding the text to ask about")
	cmd.Flags().StringVar(&f.target, "target", "", "questions: column receiving the questions")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) runStage(cmd *cobra.Command, name string, f stageFlags) error {
	if name == pipeline.StageMetrics {
		return eris.New("metrics has its own command: defuse metrics")
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	info, ok := findStage(p, name)
	if !ok {
		return eris.Errorf("unknown stage %q (see 'defuse stages')", name)
	}

	input, err := table.ReadFile(f.in)
	if err != nil {
		return err
	}
	var in pipeline.Tables
	if info.Input == pipeline.KindDocuments {
		in.Docs = input
	} else {
		in.QR = input
		if f.docs == "" {
			return eris.Errorf("stage %s needs the document table (--docs)", name)
		}
		if in.Docs, err = table.ReadFile(f.docs); err != nil {
			return err
		}
	}

	var out pipeline.Tables
	if name == pipeline.StageQuestions && (f.source != "" || f.target != "") {
		source, target := f.source, f.target
		if source == "" {
			source = p.DocColumns().Document
		}
		if target == "" {
			target = p.DocColumns().OrigQuestions
		}
		out = in
		out.Docs, err = p.QuestionsFrom(cmd.Context(), in.Docs, source, target)
	} else {
		out, err = p.Run(cmd.Context(), name, in)
	}
	if err != nil {
		return err
	}

	result := out.Docs
	if info.Output == pipeline.KindResponses {
		result = out.QR
	}
	if err := result.WriteFile(f.out); err != nil {
		return err
	}
	zap.L().Info("stage written",
		zap.String("stage", name),
		zap.String("path", f.out),
		zap.Int("rows", result.Len()))
	return nil
}

func findStage(p *pipeline.Pipeline, name string) (pipeline.StageInfo, bool) {
	for _, s := range p.Stages() {
		if s.Name == name {
			return s, true
		}
	}
	return pipeline.StageInfo{}, false
}
