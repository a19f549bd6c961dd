// Package answer turns a question and its evidence package into a cited,
// English-only answer using a chat model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/astrorag-go/internal/budget"
	"github.com/54b3r/astrorag-go/internal/evidence"
	"github.com/54b3r/astrorag-go/internal/langpolicy"
	"github.com/54b3r/astrorag-go/internal/logging"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("answer: question must be non-empty")

// Result is a generated answer.
type Result struct {
	Text  string
	Model string
	// DroppedText and DroppedFigures count evidence items left out of the
	// prompt to fit the context budget.
	DroppedText    int
	DroppedFigures int
}

// Generator prompts a chat model with question and evidence.
type Generator struct {
	model            model.BaseChatModel
	name             string
	maxContextTokens int
}

// NewGenerator returns a generator for m. name labels the model in results
// and logs; maxContextTokens ≤ 0 selects budget.DefaultMaxContextTokens.
func NewGenerator(m model.BaseChatModel, name string, maxContextTokens int) (*Generator, error) {
	if m == nil {
		return nil, fmt.Errorf("answer: model must not be nil")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Generator{model: m, name: name, maxContextTokens: maxContextTokens}, nil
}

// ModelName returns the label of the underlying model.
func (g *Generator) ModelName() string { return g.name }

// Generate returns the full answer. The output is checked against the
// English-only policy; a violation is returned as langpolicy.ErrViolation.
func (g *Generator) Generate(ctx context.Context, question string, pkg *evidence.Package) (*Result, error) {
	msgs, res, err := g.messages(ctx, question, pkg)
	if err != nil {
		return nil, err
	}
	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("answer: %s generation failed: %w", g.name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("answer: %s returned no message", g.name)
	}
	text, err := langpolicy.Enforce(strings.TrimSpace(out.Content))
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}
	res.Text = text
	return res, nil
}

// Stream writes the answer to w as the model produces it and returns the
// full text. Each streamed piece is checked before it is written; on a
// policy violation streaming stops and the error is returned, with the
// already-written prefix left in w.
func (g *Generator) Stream(ctx context.Context, question string, pkg *evidence.Package, w io.Writer) (*Result, error) {
	msgs, res, err := g.messages(ctx, question, pkg)
	if err != nil {
		return nil, err
	}
	sr, err := g.model.Stream(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("answer: %s stream failed: %w", g.name, err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("answer: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := langpolicy.Check(msg.Content); err != nil {
			return nil, fmt.Errorf("answer: %w", err)
		}
		buf.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("answer: write error: %w", err)
		}
	}
	res.Text = strings.TrimSpace(buf.String())
	return res, nil
}

// messages builds the system and user messages, trimming evidence from the
// tail (text lines first, then figure blocks) to fit the context budget.
func (g *Generator) messages(ctx context.Context, question string, pkg *evidence.Package) ([]*schema.Message, *Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, ErrEmptyQuestion
	}
	if pkg == nil {
		pkg = &evidence.Package{}
	}

	textLines := make([]string, len(pkg.TextItems))
	for i, t := range pkg.TextItems {
		textLines[i] = evidence.RenderText(t)
	}
	figBlocks := make([]string, len(pkg.FigureItems))
	for i, f := range pkg.FigureItems {
		figBlocks[i] = evidence.RenderFigure(f)
	}

	skeleton := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt(question, "", "")),
	}
	remaining := budget.Remaining(skeleton, g.maxContextTokens)
	textLines, droppedText := budget.FitLines(textLines, remaining)
	for _, l := range textLines {
		remaining -= budget.Estimate(l) + 1
	}
	figBlocks, droppedFigs := budget.FitLines(figBlocks, max(0, remaining))

	if droppedText+droppedFigs > 0 {
		logging.FromContext(ctx).Warn("budget: dropped evidence to fit context window",
			slog.Int("dropped_text", droppedText),
			slog.Int("dropped_figures", droppedFigs),
			slog.Int("max_tokens", g.maxContextTokens),
		)
	}

	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt(question, strings.Join(textLines, "\n"), strings.Join(figBlocks, "\n"))),
	}
	return msgs, &Result{Model: g.name, DroppedText: droppedText, DroppedFigures: droppedFigs}, nil
}
