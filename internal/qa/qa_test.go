package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/astrorag-go/internal/answer"
	"github.com/54b3r/astrorag-go/internal/evidence"
	"github.com/54b3r/astrorag-go/internal/rag"
)

type fakeRetriever struct {
	res *rag.Results
	err error
	got string
}

func (f *fakeRetriever) Retrieve(_ context.Context, q string) (*rag.Results, error) {
	f.got = q
	return f.res, f.err
}

type fakeAssembler struct{ pkg *evidence.Package }

func (f *fakeAssembler) Assemble(context.Context, *rag.Results) (*evidence.Package, error) {
	return f.pkg, nil
}

type fakeAnswerer struct{ streamed bool }

func (f *fakeAnswerer) Generate(_ context.Context, q string, _ *evidence.Package) (*answer.Result, error) {
	return &answer.Result{Text: "answer to " + q, Model: "m"}, nil
}

func (f *fakeAnswerer) Stream(_ context.Context, q string, _ *evidence.Package, w io.Writer) (*answer.Result, error) {
	f.streamed = true
	_, _ = io.WriteString(w, "answer to "+q)
	return &answer.Result{Text: "answer to " + q, Model: "m"}, nil
}

func testPackage() *evidence.Package {
	return &evidence.Package{
		TextItems:   []evidence.TextItem{{ChunkUID: "1:1:c0", ChunkID: "c0", DocID: 1, PageNum: 1, Text: "t"}},
		FigureItems: []evidence.FigureItem{{DocID: 1, PageNum: 1, FigureID: "f0"}},
	}
}

func TestAsk_Generate(t *testing.T) {
	t.Parallel()

	fr := &fakeRetriever{res: &rag.Results{}}
	e, err := New(fr, &fakeAssembler{pkg: testPackage()}, &fakeAnswerer{})
	require.NoError(t, err)

	ans, err := e.Ask(context.Background(), "  What is z?  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "What is z?", fr.got)
	assert.Equal(t, "What is z?", ans.Question)
	assert.Equal(t, "answer to What is z?", ans.Answer)
	assert.Len(t, ans.TextEvidence, 1)

	raw, err := json.Marshal(ans)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	for _, k := range []string{"question", "answer", "llm_model", "text_evidence", "figure_evidence"} {
		assert.Contains(t, payload, k)
	}
}

func TestAsk_Stream(t *testing.T) {
	t.Parallel()

	fa := &fakeAnswerer{}
	e, _ := New(&fakeRetriever{res: &rag.Results{}}, &fakeAssembler{pkg: testPackage()}, fa)
	var buf bytes.Buffer
	_, err := e.Ask(context.Background(), "q", &buf)
	require.NoError(t, err)
	assert.True(t, fa.streamed)
	assert.Equal(t, "answer to q", buf.String())
}

func TestAsk_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeAssembler{}, nil)
	require.Error(t, err)

	e, _ := New(&fakeRetriever{res: &rag.Results{}}, &fakeAssembler{pkg: testPackage()}, nil)
	_, err = e.Ask(context.Background(), "q", nil)
	require.Error(t, err, "no answerer")

	e, _ = New(&fakeRetriever{res: &rag.Results{}}, &fakeAssembler{pkg: testPackage()}, &fakeAnswerer{})
	_, err = e.Ask(context.Background(), " ", nil)
	require.ErrorIs(t, err, answer.ErrEmptyQuestion)

	boom := errors.New("qdrant down")
	e, _ = New(&fakeRetriever{err: boom}, &fakeAssembler{pkg: testPackage()}, &fakeAnswerer{})
	_, _, err = e.Retrieve(context.Background(), "q")
	require.ErrorIs(t, err, boom)
}
