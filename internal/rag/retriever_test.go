package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/astrorag-go/internal/fusion"
	"github.com/54b3r/astrorag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeTextIndex struct {
	hits   []TextHit
	err    error
	gotK   int
	gotVec []float32
}

func (f *fakeTextIndex) Upsert(context.Context, []TextPoint, [][]float32) error { return nil }
func (f *fakeTextIndex) DeleteDoc(context.Context, int64) error                 { return nil }
func (f *fakeTextIndex) Search(_ context.Context, vec []float32, k int) ([]TextHit, error) {
	f.gotK, f.gotVec = k, vec
	return f.hits, f.err
}

type fakeLexical struct {
	hits []store.LexicalHit
	err  error
}

func (f *fakeLexical) SearchChunks(context.Context, string, int) ([]store.LexicalHit, error) {
	return f.hits, f.err
}

type fakeVisual struct {
	pages []PageHit
	err   error
}

func (f *fakeVisual) IndexPages(context.Context, int64, []PagePoint) (int, error) { return 0, nil }
func (f *fakeVisual) Search(context.Context, string, int) ([]PageHit, error) {
	return f.pages, f.err
}

// ---------------------------------------------------------------------------
// HybridRetriever
// ---------------------------------------------------------------------------

func TestNewHybridRetriever_RequiresEmbedderAndText(t *testing.T) {
	t.Parallel()
	if _, err := NewHybridRetriever(nil, &fakeTextIndex{}, nil, nil, RetrieverConfig{}); err == nil {
		t.Error("want error for nil embedder")
	}
	if _, err := NewHybridRetriever(&fakeEmbedder{}, nil, nil, nil, RetrieverConfig{}); err == nil {
		t.Error("want error for nil text index")
	}
}

func TestHybridRetriever_FusesAllRankings(t *testing.T) {
	t.Parallel()

	text := &fakeTextIndex{hits: []TextHit{
		{ChunkUID: "1:1:c0", ChunkID: "c0", DocID: 1, PageNum: 1, Score: 0.9},
		{ChunkUID: "1:2:c0", ChunkID: "c0", DocID: 1, PageNum: 2, Score: 0.8},
	}}
	lex := &fakeLexical{hits: []store.LexicalHit{
		{ChunkUID: "1:2:c0", ChunkID: "c0", DocID: 1, PageNum: 2, Score: 3},
		{ChunkUID: "2:5:c1", ChunkID: "c1", DocID: 2, PageNum: 5, Score: 2},
	}}
	vis := &fakeVisual{pages: []PageHit{{DocID: 1, PageNum: 3, Score: 0.5}}}

	r, err := NewHybridRetriever(&fakeEmbedder{}, text, lex, vis, DefaultRetrieverConfig())
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	res, err := r.Retrieve(context.Background(), "what is the redshift?")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	if len(res.Text) != 2 || len(res.Lexical) != 2 || len(res.Visual) != 1 {
		t.Fatalf("unexpected list sizes: %d/%d/%d", len(res.Text), len(res.Lexical), len(res.Visual))
	}
	if text.gotK != 12 {
		t.Errorf("text search k = %d, want 12", text.gotK)
	}

	// 1:2:c0 appears in both text rankings and must be first.
	if res.Fused[0].Key != "1:2:c0" {
		t.Errorf("want 1:2:c0 first, got %+v", res.Fused)
	}
	keys := map[string]fusion.Result{}
	for _, f := range res.Fused {
		keys[f.Key] = f
	}
	page, ok := keys[fusion.PageKey(1, 3)]
	if !ok || page.Source != fusion.SourceVisual || page.Payload.PageNum != 3 {
		t.Errorf("visual page missing or wrong: %+v", page)
	}
	if lexOnly := keys["2:5:c1"]; lexOnly.Source != fusion.SourceText || lexOnly.Payload.DocID != 2 {
		t.Errorf("lexical-only hit wrong: %+v", lexOnly)
	}
}

func TestHybridRetriever_SemanticFailureDegradesToLexical(t *testing.T) {
	t.Parallel()

	lex := &fakeLexical{hits: []store.LexicalHit{{ChunkUID: "1:2:c0", ChunkID: "c0", DocID: 1, PageNum: 2, Score: 3.5}}}
	r, _ := NewHybridRetriever(&fakeEmbedder{err: errors.New("embedding backend unavailable")}, &fakeTextIndex{}, lex, nil, DefaultRetrieverConfig())

	res, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Text) != 0 {
		t.Errorf("want empty semantic ranking, got %+v", res.Text)
	}
	if len(res.Fused) != 1 || res.Fused[0].Key != "1:2:c0" || res.Fused[0].Payload.PageNum != 2 {
		t.Errorf("want lexical-only fusion, got %+v", res.Fused)
	}
}

func TestHybridRetriever_AllRankingsFailedIsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("qdrant down")
	r, _ := NewHybridRetriever(&fakeEmbedder{}, &fakeTextIndex{err: boom}, nil, nil, DefaultRetrieverConfig())
	if _, err := r.Retrieve(context.Background(), "q"); !errors.Is(err, boom) || !errors.Is(err, ErrAllRankingsFailed) {
		t.Errorf("semantic-only: want wrapped search error, got %v", err)
	}

	fts := errors.New("fts broken")
	r, _ = NewHybridRetriever(&fakeEmbedder{err: boom}, &fakeTextIndex{}, &fakeLexical{err: fts}, &fakeVisual{err: boom}, DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), "q")
	if !errors.Is(err, ErrAllRankingsFailed) || !errors.Is(err, fts) {
		t.Errorf("all rankings down: got %v", err)
	}
}

func TestHybridRetriever_DegradesOnLexicalAndVisualFailure(t *testing.T) {
	t.Parallel()

	text := &fakeTextIndex{hits: []TextHit{{ChunkUID: "1:1:c0", ChunkID: "c0", DocID: 1, PageNum: 1}}}
	lex := &fakeLexical{err: errors.New("fts broken")}
	vis := &fakeVisual{err: errors.New("page index down")}

	r, _ := NewHybridRetriever(&fakeEmbedder{}, text, lex, vis, DefaultRetrieverConfig())
	res, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Lexical) != 0 || len(res.Visual) != 0 {
		t.Errorf("want empty degraded lists, got %+v / %+v", res.Lexical, res.Visual)
	}
	if len(res.Fused) != 1 || res.Fused[0].Key != "1:1:c0" {
		t.Errorf("want text-only fusion, got %+v", res.Fused)
	}
}

func TestHybridRetriever_ZeroDepthDisablesRanking(t *testing.T) {
	t.Parallel()

	text := &fakeTextIndex{}
	vis := &fakeVisual{pages: []PageHit{{DocID: 1, PageNum: 1}}}
	cfg := DefaultRetrieverConfig()
	cfg.VisualTopK = 0

	r, _ := NewHybridRetriever(&fakeEmbedder{}, text, nil, vis, cfg)
	res, err := r.Retrieve(context.Background(), "q")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res.Visual) != 0 || len(res.Fused) != 0 {
		t.Errorf("visual ranking should be disabled, got %+v", res)
	}
}

func TestNoopVisualIndex(t *testing.T) {
	t.Parallel()
	var v VisualIndex = NoopVisualIndex{}
	n, err := v.IndexPages(context.Background(), 1, []PagePoint{{DocID: 1, PageNum: 1, Descriptor: "x"}})
	if err != nil || n != 0 {
		t.Errorf("IndexPages = %d, %v", n, err)
	}
	hits, err := v.Search(context.Background(), "q", 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("Search = %v, %v", hits, err)
	}
}

// ---------------------------------------------------------------------------
// Qdrant helpers
// ---------------------------------------------------------------------------

func TestPointID_Deterministic(t *testing.T) {
	t.Parallel()
	a := pointID("3:4:c2")
	if a != pointID("3:4:c2") {
		t.Error("pointID is not deterministic")
	}
	if a == pointID("3:4:c3") {
		t.Error("distinct keys share a point id")
	}
	if len(a) != 36 {
		t.Errorf("want canonical UUID, got %q", a)
	}
}

func TestTextPayloadRoundTrip(t *testing.T) {
	t.Parallel()
	p := TextPoint{ChunkUID: "3:4:c2", ChunkID: "c2", ChunkIndex: 2, DocID: 3, PageNum: 4, Section: "Results", Offset: 120, Text: "flux"}
	hit := textHitFromPayload(qdrant.NewValueMap(textPayload(p)))
	want := TextHit{ChunkUID: "3:4:c2", ChunkID: "c2", DocID: 3, PageNum: 4, Text: "flux"}
	if hit != want {
		t.Errorf("got %+v, want %+v", hit, want)
	}
	if empty := textHitFromPayload(nil); empty != (TextHit{}) {
		t.Errorf("nil payload should decode to zero hit, got %+v", empty)
	}
}
