package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key
	}
	return out
}

func TestFuse_TextAndVisualExample(t *testing.T) {
	t.Parallel()

	text := List{Source: SourceText, Weight: 1.0, Items: []Candidate{{Key: "a"}, {Key: "b"}}}
	visual := List{Source: SourceVisual, Weight: 0.8, Items: []Candidate{{Key: "p1"}}}

	got := Fuse([]List{text, visual}, 60, 0)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"a", "b", "p1"}, keys(got))
	assert.InDelta(t, 1.0/61, got[0].Score, 1e-12)
	assert.InDelta(t, 1.0/62, got[1].Score, 1e-12)
	assert.InDelta(t, 0.8/61, got[2].Score, 1e-12)
	assert.Equal(t, SourceText, got[0].Source)
	assert.Equal(t, SourceVisual, got[2].Source)
}

func TestFuse_SingleListPreservesOrder(t *testing.T) {
	t.Parallel()

	items := []Candidate{{Key: "z"}, {Key: "y"}, {Key: "x"}, {Key: "w"}}
	got := Fuse([]List{{Source: SourceText, Weight: 0.3, Items: items}}, DefaultK, 0)

	assert.Equal(t, []string{"z", "y", "x", "w"}, keys(got))
}

func TestFuse_SecondListOnlyRaisesScores(t *testing.T) {
	t.Parallel()

	first := List{Source: SourceText, Weight: 1, Items: []Candidate{{Key: "a"}, {Key: "b"}, {Key: "c"}}}
	second := List{Source: SourceVisual, Weight: 0.5, Items: []Candidate{{Key: "c"}, {Key: "d"}}}

	before := map[string]float64{}
	for _, r := range Fuse([]List{first}, DefaultK, 0) {
		before[r.Key] = r.Score
	}
	after := map[string]float64{}
	for _, r := range Fuse([]List{first, second}, DefaultK, 0) {
		after[r.Key] = r.Score
	}

	assert.Equal(t, before["a"], after["a"])
	assert.Equal(t, before["b"], after["b"])
	assert.Greater(t, after["c"], before["c"])
	assert.InDelta(t, 1.0/63+0.5/61, after["c"], 1e-12)
}

func TestFuse_FirstSeenWinsPayloadAndSource(t *testing.T) {
	t.Parallel()

	semantic := List{Source: SourceText, Weight: 1, Items: []Candidate{
		{Key: "1:2:c0", Payload: Payload{ChunkUID: "1:2:c0", ChunkID: "c0", DocID: 1, PageNum: 2}},
	}}
	visual := List{Source: SourceVisual, Weight: 1, Items: []Candidate{
		{Key: "1:2:c0", Payload: Payload{DocID: 9, PageNum: 9}},
	}}

	got := Fuse([]List{semantic, visual}, DefaultK, 0)
	require.Len(t, got, 1)
	assert.Equal(t, SourceText, got[0].Source)
	assert.Equal(t, int64(1), got[0].Payload.DocID)
	assert.Equal(t, "c0", got[0].Payload.ChunkID)
	assert.InDelta(t, 2.0/61, got[0].Score, 1e-12)
}

func TestFuse_TopKTruncates(t *testing.T) {
	t.Parallel()

	items := []Candidate{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}}
	got := Fuse([]List{{Source: SourceText, Weight: 1, Items: items}}, DefaultK, 2)
	assert.Equal(t, []string{"a", "b"}, keys(got))
}

func TestFuse_TiesKeepFirstSeenOrder(t *testing.T) {
	t.Parallel()

	l1 := List{Source: SourceText, Weight: 1, Items: []Candidate{{Key: "t1"}}}
	l2 := List{Source: SourceVisual, Weight: 1, Items: []Candidate{{Key: "v1"}}}

	got := Fuse([]List{l1, l2}, DefaultK, 0)
	assert.Equal(t, []string{"t1", "v1"}, keys(got))
	assert.Equal(t, got[0].Score, got[1].Score)
}

func TestFuse_Deterministic(t *testing.T) {
	t.Parallel()

	lists := []List{
		{Source: SourceText, Weight: 1, Items: []Candidate{{Key: "a"}, {Key: "b"}, {Key: "c"}}},
		{Source: SourceText, Weight: 0.5, Items: []Candidate{{Key: "c"}, {Key: "e"}, {Key: "a"}}},
		{Source: SourceVisual, Weight: 0.8, Items: []Candidate{{Key: "p"}, {Key: "q"}}},
	}

	first := Fuse(lists, DefaultK, 0)
	for range 20 {
		assert.Equal(t, first, Fuse(lists, DefaultK, 0))
	}
}

func TestFuse_EmptyInput(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Fuse(nil, DefaultK, 10))
	assert.Empty(t, Fuse([]List{{Source: SourceVisual, Weight: 1}}, DefaultK, 10))
}

func TestPageKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "page:12:3", PageKey(12, 3))
}

func TestPayload_HasPage(t *testing.T) {
	t.Parallel()

	assert.True(t, Payload{DocID: 1, PageNum: 1}.HasPage())
	assert.False(t, Payload{DocID: 1}.HasPage())
	assert.False(t, Payload{PageNum: 1}.HasPage())
}
