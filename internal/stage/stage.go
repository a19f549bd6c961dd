// Package stage decides, per document and per processing stage, whether
// work must run, and records completion so that re-runs over unchanged
// files are no-ops.
//
// A stage's watermark is the pair (completed_at, completed_hash). The stage
// is up to date only when completed_hash equals the document's current
// content hash. Stages run in the order ingest, text index, visual index,
// but each keeps its own watermark. Changing processing settings (render
// DPI, chunk sizes) does not change the content hash; re-running under new
// settings needs force.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/store"
)

// DefaultLeaseTTL bounds how long a crashed worker can block a document.
const DefaultLeaseTTL = 30 * time.Minute

var (
	// ErrUnknownDocument is returned when the document id is not registered.
	ErrUnknownDocument = errors.New("stage: unknown document")
	// ErrLeaseHeld is returned when another worker is processing the document.
	ErrLeaseHeld = errors.New("stage: document lease held by another worker")
	// ErrContentChanged is returned when the file content changed while the
	// stage was running. The work is discarded; a later run will redo it.
	ErrContentChanged = errors.New("stage: document content changed during run")
)

// Stage names one incremental processing step.
type Stage string

const (
	Ingest      Stage = store.StageIngest
	TextIndex   Stage = store.StageTextIndex
	VisualIndex Stage = store.StageVisualIndex
)

// All lists the stages in execution order.
var All = []Stage{Ingest, TextIndex, VisualIndex}

// State is the derived freshness of one stage of one document.
type State int

const (
	// NeverRun means the stage has no completion timestamp.
	NeverRun State = iota
	// Stale means the stage completed against a different content hash.
	Stale
	// UpToDate means the stage completed against the current content hash.
	UpToDate
)

// String returns the lowercase state name used in logs and status output.
func (s State) String() string {
	switch s {
	case NeverRun:
		return "never_run"
	case Stale:
		return "stale"
	case UpToDate:
		return "up_to_date"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// StateOf derives the state of stage s for doc. An unknown stage reports
// NeverRun.
func StateOf(doc *store.Document, s Stage) State {
	w, ok := doc.Watermark(string(s))
	if !ok || !w.IsSet() {
		return NeverRun
	}
	if w.Hash != doc.ContentHash {
		return Stale
	}
	return UpToDate
}

// ShouldRun reports whether stage s must execute for doc.
func ShouldRun(doc *store.Document, s Stage, force bool) bool {
	return force || StateOf(doc, s) != UpToDate
}

// Store is the subset of the metadata store the gate needs.
type Store interface {
	Document(ctx context.Context, docID int64) (*store.Document, error)
	AcquireLease(ctx context.Context, docID int64, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, docID int64, owner string) error
	CommitStage(ctx context.Context, docID int64, stage, expectedHash string) (bool, error)
}

// Func performs the work of a stage against the document snapshot taken
// before it started.
type Func func(ctx context.Context, doc *store.Document) error

// Outcome describes what Run did.
type Outcome struct {
	// Doc is the document record after the run (or the unchanged record on skip).
	Doc *store.Document
	// Skipped is true when the stage was already up to date.
	Skipped bool
}

// Gate runs stage functions under the watermark rules.
type Gate struct {
	store    Store
	owner    string
	leaseTTL time.Duration
}

// NewGate returns a Gate backed by s. owner identifies this worker in the
// lease table; an empty owner gets a unique host/process identifier. A
// non-positive ttl uses DefaultLeaseTTL.
func NewGate(s Store, owner string, ttl time.Duration) *Gate {
	if owner == "" {
		owner = defaultOwner()
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Gate{store: s, owner: owner, leaseTTL: ttl}
}

// Owner returns the lease owner identifier of this gate.
func (g *Gate) Owner() string { return g.owner }

// Run executes fn for stage s of docID if the stage is not up to date (or
// force is set) and records the watermark on success.
//
// When fn fails the watermark is left untouched and fn's error is
// returned. The commit is a compare-and-swap on the content hash observed
// before fn ran; if the file was re-registered with different content in
// the meantime, ErrContentChanged is returned and nothing is recorded.
func (g *Gate) Run(ctx context.Context, docID int64, s Stage, force bool, fn Func) (Outcome, error) {
	log := logging.FromContext(ctx).With(slog.Int64("doc_id", docID), slog.String("stage", string(s)))

	doc, err := g.store.Document(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("%w: %d: %w", ErrUnknownDocument, docID, err)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("stage: load document %d: %w", docID, err)
	}

	state := StateOf(doc, s)
	if !ShouldRun(doc, s, force) {
		log.Debug("stage: up to date, skipping")
		return Outcome{Doc: doc, Skipped: true}, nil
	}

	ok, err := g.store.AcquireLease(ctx, docID, g.owner, g.leaseTTL)
	if err != nil {
		return Outcome{Doc: doc}, fmt.Errorf("stage: acquire lease: %w", err)
	}
	if !ok {
		return Outcome{Doc: doc}, fmt.Errorf("%w: doc %d", ErrLeaseHeld, docID)
	}
	defer func() {
		// Released on a fresh context so a cancelled run still frees the document.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := g.store.ReleaseLease(relCtx, docID, g.owner); err != nil {
			log.Warn("stage: release lease failed", slog.String("error", err.Error()))
		}
	}()

	// Another worker may have committed between the first read and the
	// lease, so the decision is made again on a fresh record.
	doc, err = g.store.Document(ctx, docID)
	if err != nil {
		return Outcome{}, fmt.Errorf("stage: reload document %d: %w", docID, err)
	}
	state = StateOf(doc, s)
	if !ShouldRun(doc, s, force) {
		log.Debug("stage: completed by another worker, skipping")
		return Outcome{Doc: doc, Skipped: true}, nil
	}

	log.Info("stage: running", slog.String("state", state.String()), slog.Bool("force", force))
	start := time.Now()

	if err := fn(ctx, doc); err != nil {
		log.Error("stage: failed", slog.String("error", err.Error()), slog.Duration("elapsed", time.Since(start)))
		return Outcome{Doc: doc}, err
	}

	committed, err := g.store.CommitStage(ctx, docID, string(s), doc.ContentHash)
	if err != nil {
		return Outcome{Doc: doc}, fmt.Errorf("stage: commit: %w", err)
	}
	if !committed {
		log.Warn("stage: content changed during run, not committing")
		return Outcome{Doc: doc}, fmt.Errorf("%w: doc %d", ErrContentChanged, docID)
	}

	updated, err := g.store.Document(ctx, docID)
	if err != nil {
		return Outcome{Doc: doc}, fmt.Errorf("stage: reload document %d: %w", docID, err)
	}
	log.Info("stage: completed", slog.Duration("elapsed", time.Since(start)))
	return Outcome{Doc: updated}, nil
}

// defaultOwner builds a lease owner id unique to this process.
func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid()) + ":" + uuid.NewString()[:8]
}
