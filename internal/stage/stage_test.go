package stage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/astrorag-go/internal/store"
)

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func register(t *testing.T, s *store.SQLiteStore, path, hash string) *store.Document {
	t.Helper()
	d, err := s.UpsertDocument(context.Background(), store.DocumentInput{
		FilePath: path, FileName: path, ContentHash: hash, PageCount: 4,
	})
	require.NoError(t, err)
	return d
}

func countingFunc(calls *atomic.Int32) Func {
	return func(context.Context, *store.Document) error {
		calls.Add(1)
		return nil
	}
}

func TestStateOf(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &store.Document{
		ContentHash: "h2",
		Ingested:    store.Watermark{At: at, Hash: "h2"},
		TextIndexed: store.Watermark{At: at, Hash: "h1"},
	}

	assert.Equal(t, UpToDate, StateOf(doc, Ingest))
	assert.Equal(t, Stale, StateOf(doc, TextIndex))
	assert.Equal(t, NeverRun, StateOf(doc, VisualIndex))
	assert.Equal(t, NeverRun, StateOf(doc, Stage("bogus")))

	assert.False(t, ShouldRun(doc, Ingest, false))
	assert.True(t, ShouldRun(doc, Ingest, true))
	assert.True(t, ShouldRun(doc, TextIndex, false))
	assert.True(t, ShouldRun(doc, VisualIndex, false))

	assert.Equal(t, "up_to_date", UpToDate.String())
	assert.Equal(t, "never_run", NeverRun.String())
}

func TestGate_RunIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/a.pdf", "h1")
	g := NewGate(s, "worker-a", time.Minute)

	var calls atomic.Int32
	out, err := g.Run(ctx, doc.DocID, TextIndex, false, countingFunc(&calls))
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "h1", out.Doc.TextIndexed.Hash)
	assert.True(t, out.Doc.TextIndexed.IsSet())

	out, err = g.Run(ctx, doc.DocID, TextIndex, false, countingFunc(&calls))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, int32(1), calls.Load(), "second run must not call fn")
}

func TestGate_ForceRerunsUpToDateStage(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/b.pdf", "h1")
	g := NewGate(s, "", 0)

	var calls atomic.Int32
	_, err := g.Run(ctx, doc.DocID, Ingest, false, countingFunc(&calls))
	require.NoError(t, err)
	out, err := g.Run(ctx, doc.DocID, Ingest, true, countingFunc(&calls))
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGate_ContentChangeMakesStagesStale(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/c.pdf", "h1")
	g := NewGate(s, "w", time.Minute)

	var calls atomic.Int32
	for _, st := range All {
		_, err := g.Run(ctx, doc.DocID, st, false, countingFunc(&calls))
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), calls.Load())

	changed := register(t, s, "/c.pdf", "h2")
	for _, st := range All {
		assert.Equal(t, Stale, StateOf(changed, st), "stage %s", st)
	}

	for _, st := range All {
		out, err := g.Run(ctx, doc.DocID, st, false, countingFunc(&calls))
		require.NoError(t, err)
		assert.False(t, out.Skipped)
		assert.Equal(t, UpToDate, StateOf(out.Doc, st))
	}
	assert.Equal(t, int32(6), calls.Load())
}

func TestGate_StagesHaveIndependentWatermarks(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/d.pdf", "h1")
	g := NewGate(s, "w", time.Minute)

	out, err := g.Run(ctx, doc.DocID, Ingest, false, func(context.Context, *store.Document) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, UpToDate, StateOf(out.Doc, Ingest))
	assert.Equal(t, NeverRun, StateOf(out.Doc, TextIndex))
	assert.Equal(t, NeverRun, StateOf(out.Doc, VisualIndex))
}

func TestGate_FailureLeavesWatermark(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/e.pdf", "h1")
	g := NewGate(s, "w", time.Minute)

	boom := errors.New("embedder down")
	_, err := g.Run(ctx, doc.DocID, TextIndex, false, func(context.Context, *store.Document) error { return boom })
	require.ErrorIs(t, err, boom)

	got, err := s.Document(ctx, doc.DocID)
	require.NoError(t, err)
	assert.False(t, got.TextIndexed.IsSet())

	// The lease is released on failure, so another worker can proceed.
	other := NewGate(s, "other", time.Minute)
	_, err = other.Run(ctx, doc.DocID, TextIndex, false, func(context.Context, *store.Document) error { return nil })
	require.NoError(t, err)
}

func TestGate_UnknownDocument(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	g := NewGate(s, "w", time.Minute)

	called := false
	_, err := g.Run(context.Background(), 999, Ingest, true, func(context.Context, *store.Document) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrUnknownDocument)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, called)

	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGate_LeaseHeldByAnotherWorker(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/f.pdf", "h1")

	ok, err := s.AcquireLease(ctx, doc.DocID, "busy-worker", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	g := NewGate(s, "w", time.Minute)
	called := false
	_, err = g.Run(ctx, doc.DocID, TextIndex, false, func(context.Context, *store.Document) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrLeaseHeld)
	assert.False(t, called)

	// A skip does not need the lease.
	_, err = s.CommitStage(ctx, doc.DocID, string(Ingest), "h1")
	require.NoError(t, err)
	out, err := g.Run(ctx, doc.DocID, Ingest, false, func(context.Context, *store.Document) error { return nil })
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

func TestGate_ContentChangedDuringRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/g.pdf", "h1")
	g := NewGate(s, "w", time.Minute)

	_, err := g.Run(ctx, doc.DocID, TextIndex, false, func(ctx context.Context, d *store.Document) error {
		// Another process re-registers the file with new content mid-run.
		_, err := s.UpsertDocument(ctx, store.DocumentInput{
			FilePath: d.FilePath, FileName: d.FileName, ContentHash: "h2", PageCount: d.PageCount,
		})
		return err
	})
	require.ErrorIs(t, err, ErrContentChanged)

	got, err := s.Document(ctx, doc.DocID)
	require.NoError(t, err)
	assert.Equal(t, NeverRun, StateOf(got, TextIndex))
}

func TestGate_ConcurrentRunsExecuteOnce(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/h.pdf", "h1")

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	slow := func(context.Context, *store.Document) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := NewGate(s, "w1", time.Minute).Run(ctx, doc.DocID, TextIndex, false, slow)
		errc <- err
	}()
	<-started

	_, err := NewGate(s, "w2", time.Minute).Run(ctx, doc.DocID, TextIndex, false, countingFunc(&calls))
	require.ErrorIs(t, err, ErrLeaseHeld)

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, int32(1), calls.Load())

	out, err := NewGate(s, "w2", time.Minute).Run(ctx, doc.DocID, TextIndex, false, countingFunc(&calls))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

// racingStore commits the stage on behalf of another worker just before
// handing out the lease.
type racingStore struct {
	*store.SQLiteStore
	stage Stage
	hash  string
}

func (r *racingStore) AcquireLease(ctx context.Context, docID int64, owner string, ttl time.Duration) (bool, error) {
	if _, err := r.CommitStage(ctx, docID, string(r.stage), r.hash); err != nil {
		return false, err
	}
	return r.SQLiteStore.AcquireLease(ctx, docID, owner, ttl)
}

func TestGate_RechecksAfterLease(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ctx := context.Background()
	doc := register(t, s, "/i.pdf", "h1")

	var calls atomic.Int32
	g := NewGate(&racingStore{SQLiteStore: s, stage: TextIndex, hash: "h1"}, "w", time.Minute)
	out, err := g.Run(ctx, doc.DocID, TextIndex, false, countingFunc(&calls))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Zero(t, calls.Load(), "work committed by another worker is not redone")
	assert.Equal(t, UpToDate, StateOf(out.Doc, TextIndex))

	out, err = g.Run(ctx, doc.DocID, TextIndex, true, countingFunc(&calls))
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, int32(1), calls.Load(), "force still reruns")

	ok, err := s.AcquireLease(ctx, doc.DocID, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "the skipping run released its lease")
}

func TestNewGate_DefaultOwnerIsUnique(t *testing.T) {
	t.Parallel()

	a := NewGate(nil, "", 0)
	b := NewGate(nil, "", 0)
	assert.NotEmpty(t, a.Owner())
	assert.NotEqual(t, a.Owner(), b.Owner())
	assert.Equal(t, DefaultLeaseTTL, a.leaseTTL)
}
