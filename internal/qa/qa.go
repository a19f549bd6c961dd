// Package qa wires hybrid retrieval, evidence assembly and answer generation
// into the question-answering flow shared by the CLI and the HTTP server.
package qa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/astrorag-go/internal/answer"
	"github.com/54b3r/astrorag-go/internal/evidence"
	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/rag"
)

// Retriever produces the ranked lists for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (*rag.Results, error)
}

// Assembler turns ranked lists into a bounded evidence package.
type Assembler interface {
	Assemble(ctx context.Context, res *rag.Results) (*evidence.Package, error)
}

// Answerer generates the final answer from a question and its evidence.
type Answerer interface {
	Generate(ctx context.Context, question string, pkg *evidence.Package) (*answer.Result, error)
	Stream(ctx context.Context, question string, pkg *evidence.Package, w io.Writer) (*answer.Result, error)
}

// Answer is the full response to a question. Its JSON form is the payload
// printed by `query --json` and sent as the SSE evidence event.
type Answer struct {
	Question       string                `json:"question"`
	Answer         string                `json:"answer"`
	Model          string                `json:"llm_model"`
	TextEvidence   []evidence.TextItem   `json:"text_evidence"`
	FigureEvidence []evidence.FigureItem `json:"figure_evidence"`
}

// Engine answers questions over the indexed corpus.
type Engine struct {
	retriever Retriever
	assembler Assembler
	answerer  Answerer
}

// New constructs an Engine. answerer may be nil for retrieval-only use.
func New(r Retriever, a Assembler, answerer Answerer) (*Engine, error) {
	if r == nil || a == nil {
		return nil, fmt.Errorf("qa: retriever and assembler must not be nil")
	}
	return &Engine{retriever: r, assembler: a, answerer: answerer}, nil
}

// Retrieve runs hybrid retrieval and evidence assembly for question.
func (e *Engine) Retrieve(ctx context.Context, question string) (*evidence.Package, *rag.Results, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, answer.ErrEmptyQuestion
	}
	log := logging.FromContext(ctx)

	start := time.Now()
	res, err := e.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, nil, fmt.Errorf("qa: retrieve: %w", err)
	}
	pkg, err := e.assembler.Assemble(ctx, res)
	if err != nil {
		return nil, nil, fmt.Errorf("qa: assemble: %w", err)
	}
	log.Info("qa: evidence assembled",
		slog.Int("text_hits", len(res.Text)),
		slog.Int("lexical_hits", len(res.Lexical)),
		slog.Int("visual_hits", len(res.Visual)),
		slog.Int("fused", len(res.Fused)),
		slog.Int("text_items", len(pkg.TextItems)),
		slog.Int("figure_items", len(pkg.FigureItems)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return pkg, res, nil
}

// Ask retrieves evidence and generates an answer. When w is non-nil the
// answer is streamed to w as it is produced.
func (e *Engine) Ask(ctx context.Context, question string, w io.Writer) (*Answer, error) {
	if e.answerer == nil {
		return nil, fmt.Errorf("qa: no answer model configured")
	}
	pkg, _, err := e.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	var res *answer.Result
	if w != nil {
		res, err = e.answerer.Stream(ctx, question, pkg, w)
	} else {
		res, err = e.answerer.Generate(ctx, question, pkg)
	}
	if err != nil {
		return nil, fmt.Errorf("qa: %w", err)
	}

	return &Answer{
		Question:       strings.TrimSpace(question),
		Answer:         res.Text,
		Model:          res.Model,
		TextEvidence:   pkg.TextItems,
		FigureEvidence: pkg.FigureItems,
	}, nil
}
