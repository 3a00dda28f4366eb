package pipeline

// DocColumns names the columns of the document table.
type DocColumns struct {
	DocID         string `mapstructure:"doc_id" yaml:"doc_id"`
	Source        string `mapstructure:"source" yaml:"source"`
	Document      string `mapstructure:"document" yaml:"document"`
	LLMQ          string `mapstructure:"llm_q" yaml:"llm_q"`
	DocPrompt     string `mapstructure:"doc_prompt" yaml:"doc_prompt"`
	ReduceDoc     string `mapstructure:"reduce_doc" yaml:"reduce_doc"`
	ModifyDoc     string `mapstructure:"modify_doc" yaml:"modify_doc"`
	ExpandDoc     string `mapstructure:"expand_doc" yaml:"expand_doc"`
	OrigQuestions string `mapstructure:"orig_questions" yaml:"orig_questions"`
	ConfQuestions string `mapstructure:"conf_questions" yaml:"conf_questions"`
}

// DefaultDocColumns returns the standard document table layout.
func DefaultDocColumns() DocColumns {
	return DocColumns{
		DocID:         "doc_id",
		Source:        "source",
		Document:      "document",
		LLMQ:          "LLM_q",
		DocPrompt:     "doc_prompt",
		ReduceDoc:     "reduce_doc",
		ModifyDoc:     "modify_doc",
		ExpandDoc:     "expand_doc",
		OrigQuestions: "orig_questions",
		ConfQuestions: "conf_questions",
	}
}

// withDefaults fills empty names from the standard layout.
func (c DocColumns) withDefaults() DocColumns {
	d := DefaultDocColumns()
	fill(&c.DocID, d.DocID)
	fill(&c.Source, d.Source)
	fill(&c.Document, d.Document)
	fill(&c.LLMQ, d.LLMQ)
	fill(&c.DocPrompt, d.DocPrompt)
	fill(&c.ReduceDoc, d.ReduceDoc)
	fill(&c.ModifyDoc, d.ModifyDoc)
	fill(&c.ExpandDoc, d.ExpandDoc)
	fill(&c.OrigQuestions, d.OrigQuestions)
	fill(&c.ConfQuestions, d.ConfQuestions)
	return c
}

// QRColumns names the columns of the question/response table.
type QRColumns struct {
	DocID       string `mapstructure:"doc_id" yaml:"doc_id"`
	QID         string `mapstructure:"q_id" yaml:"q_id"`
	IsConfusing string `mapstructure:"is_confusing" yaml:"is_confusing"`
	Question    string `mapstructure:"question" yaml:"question"`
	LLMR        string `mapstructure:"llm_r" yaml:"llm_r"`
	Response    string `mapstructure:"response" yaml:"response"`
	Confusion   string `mapstructure:"confusion" yaml:"confusion"`
	Defusion    string `mapstructure:"defusion" yaml:"defusion"`
	IsDefused   string `mapstructure:"is_defused" yaml:"is_defused"`
}

// DefaultQRColumns returns the standard question/response table layout.
func DefaultQRColumns() QRColumns {
	return QRColumns{
		DocID:       "doc_id",
		QID:         "q_id",
		IsConfusing: "is_confusing",
		Question:    "question",
		LLMR:        "LLM_r",
		Response:    "response",
		Confusion:   "confusion",
		Defusion:    "defusion",
		IsDefused:   "is_defused",
	}
}

func (c QRColumns) withDefaults() QRColumns {
	d := DefaultQRColumns()
	fill(&c.DocID, d.DocID)
	fill(&c.QID, d.QID)
	fill(&c.IsConfusing, d.IsConfusing)
	fill(&c.Question, d.Question)
	fill(&c.LLMR, d.LLMR)
	fill(&c.Response, d.Response)
	fill(&c.Confusion, d.Confusion)
	fill(&c.Defusion, d.Defusion)
	fill(&c.IsDefused, d.IsDefused)
	return c
}

func fill(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Cell values used in the question/response table.
const (
	ValueYes  = "yes"
	ValueNo   = "no"
	ValueNone = "none"
	ValueNA   = "n/a"
)
