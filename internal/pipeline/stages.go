package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/table"
)

// Stage names.
const (
	StageRecord    = "record"
	StageReduce    = "reduce"
	StageModify    = "modify"
	StageExpand    = "expand"
	StageQuestions = "questions"
	StageConfuse   = "confuse"
	StageRespond   = "respond"
	StageDetect    = "detect"
	StageDefuse    = "defuse"
	StageMetrics   = "metrics"
)

// Table kinds a stage reads or writes.
const (
	KindDocuments = "documents"
	KindResponses = "responses"
)

// DefaultChain is the full run from raw documents to metrics.
var DefaultChain = []string{
	StageRecord, StageReduce, StageModify, StageExpand, StageQuestions,
	StageConfuse, StageRespond, StageDetect, StageDefuse, StageMetrics,
}

// StageInfo describes the column contract of a stage.
type StageInfo struct {
	Name        string
	Input       string
	Output      string
	Requires    []string
	Produces    []string
	Description string
}

// Stages lists every stage with the column names currently configured.
func (p *Pipeline) Stages() []StageInfo {
	d, r := p.docs, p.qr
	defuseRequires := []string{r.DocID, r.Question, r.Response, r.IsConfusing}
	if p.opts.DefuseGate == GateConfusion {
		defuseRequires = append(defuseRequires, r.Confusion)
	}
	return []StageInfo{
		{StageRecord, KindDocuments, KindDocuments, []string{d.Document}, []string{d.LLMQ, d.DocPrompt},
			"stamp the question model and document prompt key"},
		{StageReduce, KindDocuments, KindDocuments, []string{d.Document, d.LLMQ, d.DocPrompt}, []string{d.ReduceDoc},
			"rewrite each document as a numbered fact list"},
		{StageModify, KindDocuments, KindDocuments, []string{d.Document, d.LLMQ, d.DocPrompt, d.ReduceDoc}, []string{d.ModifyDoc},
			"suppress, impute and reconcile facts"},
		{StageExpand, KindDocuments, KindDocuments, []string{d.Document, d.LLMQ, d.DocPrompt, d.ModifyDoc}, []string{d.ExpandDoc},
			"rewrite modified facts as prose"},
		{StageQuestions, KindDocuments, KindDocuments, []string{d.LLMQ, d.Document}, []string{d.OrigQuestions},
			"write questions answered by the document"},
		{StageConfuse, KindDocuments, KindDocuments, []string{d.LLMQ, d.Document, d.ModifyDoc}, []string{d.ConfQuestions},
			"write questions built on fabricated facts"},
		{StageRespond, KindDocuments, KindResponses, []string{d.DocID, d.Document, d.OrigQuestions, d.ConfQuestions},
			[]string{r.DocID, r.QID, r.IsConfusing, r.Question, r.LLMR, r.Response},
			"answer every question against its document"},
		{StageDetect, KindResponses, KindResponses, append([]string{r.DocID, r.Question}, p.evalRequires()...), []string{r.Confusion},
			"look for a false assumption in each question"},
		{StageDefuse, KindResponses, KindResponses, append(defuseRequires, p.evalRequires()...), []string{r.Defusion, r.IsDefused},
			"check whether each answer pointed out the false assumption"},
		{StageMetrics, KindResponses, KindResponses, []string{r.IsConfusing, r.Confusion, r.IsDefused}, nil,
			"count detections and defusions, collect undefused confusions"},
	}
}

// Tables are the two record sets threaded through a run.
type Tables struct {
	Docs *table.Table
	QR   *table.Table
}

// Run executes one stage. Metrics are computed by Metrics, not Run.
func (p *Pipeline) Run(ctx context.Context, stage string, in Tables) (Tables, error) {
	out := in
	var err error
	switch stage {
	case StageRecord:
		out.Docs, err = p.Record(ctx, in.Docs)
	case StageReduce:
		out.Docs, err = p.Reduce(ctx, in.Docs)
	case StageModify:
		out.Docs, err = p.Modify(ctx, in.Docs)
	case StageExpand:
		out.Docs, err = p.Expand(ctx, in.Docs)
	case StageQuestions:
		out.Docs, err = p.Questions(ctx, in.Docs)
	case StageConfuse:
		out.Docs, err = p.Confuse(ctx, in.Docs)
	case StageRespond:
		out.QR, err = p.Respond(ctx, in.Docs)
	case StageDetect:
		out.QR, err = p.Detect(ctx, in.QR, in.Docs)
	case StageDefuse:
		out.QR, err = p.Defuse(ctx, in.QR, in.Docs)
	case StageMetrics:
		return in, eris.New("pipeline: metrics is not a table stage, use Metrics")
	default:
		return in, eris.Errorf("pipeline: unknown stage %q", stage)
	}
	if err != nil {
		return in, err
	}
	return out, nil
}

// Work directory file names.
const (
	FileQROut   = "qrc_out.csv"
	FileFilter  = "qrc_filter.csv"
	FileMetrics = "metrics.txt"
)

// DocsFile returns the name of the document table written after step n.
func DocsFile(n int) string {
	return fmt.Sprintf("docs_%d.csv", n)
}

// QRFile returns the name of the response table written after step n.
func QRFile(n int) string {
	return fmt.Sprintf("qrc_%d.csv", n)
}

// Chain runs stages in order and persists every intermediate table in
// workDir, so the output of each completed stage survives a later failure.
// The input documents are saved as docs_0.csv; each document stage writes
// the next docs_N.csv and each response stage the next qrc_N.csv. The
// metrics stage writes qrc_out.csv, qrc_filter.csv and metrics.txt.
func (p *Pipeline) Chain(ctx context.Context, workDir string, stages []string, in Tables) (Tables, *Summary, error) {
	known := make([]string, 0, len(p.Stages()))
	for _, s := range p.Stages() {
		known = append(known, s.Name)
	}
	for _, s := range stages {
		if !slices.Contains(known, s) {
			return in, nil, eris.Errorf("pipeline: unknown stage %q", s)
		}
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return in, nil, eris.Wrapf(err, "pipeline: create work dir %s", workDir)
	}

	docStep, qrStep := 0, 0
	if in.Docs != nil {
		if err := in.Docs.WriteFile(filepath.Join(workDir, DocsFile(docStep))); err != nil {
			return in, nil, err
		}
	}

	cur := in
	var summary *Summary
	for i, stage := range stages {
		p.logger.Info("running stage",
			zap.Int("step", i+1),
			zap.Int("of", len(stages)),
			zap.String("stage", stage))

		if stage == StageMetrics {
			filter, s, err := p.Metrics(cur.QR)
			if err != nil {
				return cur, nil, err
			}
			if err := p.writeMetrics(workDir, cur.QR, filter, s); err != nil {
				return cur, nil, err
			}
			summary = &s
			continue
		}

		next, err := p.Run(ctx, stage, cur)
		if err != nil {
			return cur, nil, err
		}
		if next.Docs != cur.Docs {
			docStep++
			if err := next.Docs.WriteFile(filepath.Join(workDir, DocsFile(docStep))); err != nil {
				return next, nil, err
			}
		}
		if next.QR != cur.QR {
			qrStep++
			if err := next.QR.WriteFile(filepath.Join(workDir, QRFile(qrStep))); err != nil {
				return next, nil, err
			}
		}
		cur = next
	}
	return cur, summary, nil
}

func (p *Pipeline) writeMetrics(workDir string, qr, filter *table.Table, s Summary) error {
	if err := qr.WriteFile(filepath.Join(workDir, FileQROut)); err != nil {
		return err
	}
	if err := filter.WriteFile(filepath.Join(workDir, FileFilter)); err != nil {
		return err
	}
	path := filepath.Join(workDir, FileMetrics)
	if err := os.WriteFile(path, []byte(s.Text()), 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	p.logger.Info("metrics written",
		zap.String("path", path),
		zap.Int("confusing", s.Confusing.Total),
		zap.Int("detected", s.Confusing.Detected),
		zap.Int("undefused", s.Confusing.DetectedNotDefused()))
	return nil
}
