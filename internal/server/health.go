package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/astrorag-go/internal/logging"
)

// checkTimeout is the maximum time allowed for each individual dependency
// check during a readiness check.
const checkTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Implementations must be safe to call from multiple
// goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	// Returns nil on success, a descriptive error on failure.
	Ping(ctx context.Context) error

	// Name returns a short human-readable label used in readiness responses
	// (e.g. "sqlite", "qdrant", "llm:ollama").
	Name() string
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Latency is how long the check took.
	Latency time.Duration `json:"-"`
	// LatencyMS is Latency in milliseconds, for JSON consumers.
	LatencyMS int64 `json:"latency_ms"`
	// Error contains the failure reason when OK is false. Empty on success.
	Error string `json:"error,omitempty"`
}

// RunChecks checks every pinger concurrently, each under its own timeout,
// and returns the results in pinger order. A slow dependency delays the
// result by at most timeout.
func RunChecks(ctx context.Context, pingers []Pinger, timeout time.Duration) []CheckResult {
	results := make([]CheckResult, len(pingers))

	var g errgroup.Group
	for i, p := range pingers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(pctx)
			elapsed := time.Since(start)

			res := CheckResult{Name: p.Name(), OK: err == nil, Latency: elapsed, LatencyMS: elapsed.Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency check succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency check results.
	Checks []CheckResult `json:"checks"`
}

// handleReady handles GET /api/ready for readiness checks.
// It returns 200 when all dependencies are reachable, or 503 when any check
// fails. Unlike /api/health (liveness), this endpoint reflects actual
// dependency state, which is also exported as astrorag_dependency_up.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Checks: RunChecks(r.Context(), s.pingers, checkTimeout)}
	for _, c := range resp.Checks {
		s.metrics.observeDependency(c.Name, c.OK)
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness check failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}
	if resp.Checks == nil {
		resp.Checks = []CheckResult{}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}
