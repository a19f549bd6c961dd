// Package server implements the HTTP server that exposes hybrid retrieval
// and cited question answering over the ingested corpus via a REST/SSE API.
// The server is started by the `astrorag serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/astrorag-go/internal/answer"
	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/stage"
)

// maxBodyBytes bounds the JSON request bodies accepted by the API.
const maxBodyBytes = 64 << 10

// New constructs a Server from the question-answering engine, the document
// lister and config.
func New(engine asker, docs documentLister, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if docs == nil {
		return nil, fmt.Errorf("server: document lister must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 5 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine:  engine,
		docs:    docs,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: ASTRORAG_API_KEY is not set, API authentication is disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.rejected = s.metrics.rateLimitedTotal
	s.stopRL = stop

	protect := func(h http.Handler) http.Handler { return authMiddleware(cfg.APIKey, h) }
	limited := func(h http.Handler) http.Handler { return protect(rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", s.instrument("ask", limited(http.HandlerFunc(s.handleAsk))))
	mux.Handle("POST /api/retrieve", s.instrument("retrieve", limited(http.HandlerFunc(s.handleRetrieve))))
	mux.Handle("GET /api/documents", s.instrument("documents", protect(http.HandlerFunc(s.handleDocuments))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	defer s.stopRL()

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// decodeQuestion reads a questionRequest and writes a 400 on failure.
func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req questionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return "", false
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return "", false
	}
	return q, true
}

// handleAsk handles POST /api/ask. The answer is streamed as SSE data
// frames while it is generated, followed by one "evidence" event carrying
// the full JSON response and a final "done" event.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	log := logging.FromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	s.metrics.askActiveStreams.Inc()
	defer s.metrics.askActiveStreams.Dec()
	start := time.Now()

	sw := &sseWriter{w: w, flusher: flusher}
	ans, err := s.engine.Ask(ctx, question, sw)
	if err != nil {
		outcome := "error"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.metrics.observeAsk(outcome, time.Since(start))
		log.Error("ask failed", slog.String("outcome", outcome), slog.Any("error", err))
		writeEvent(w, flusher, "error", err.Error())
		return
	}
	s.metrics.observeAsk("ok", time.Since(start))

	payload, err := json.Marshal(ans)
	if err != nil {
		writeEvent(w, flusher, "error", err.Error())
		return
	}
	writeEvent(w, flusher, "evidence", string(payload))
	writeEvent(w, flusher, "done", "[DONE]")
}

// handleRetrieve handles POST /api/retrieve and returns the evidence package
// and the rankings without calling the answer model.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	log := logging.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	pkg, res, err := s.engine.Retrieve(ctx, question)
	if errors.Is(err, answer.ErrEmptyQuestion) {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error("retrieve failed", slog.Any("error", err))
		http.Error(w, "retrieval failed", retrieveStatus(ctx, err))
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		Question:       question,
		TextEvidence:   pkg.TextItems,
		FigureEvidence: pkg.FigureItems,
		Context:        pkg.Context,
		Results:        res,
	})
}

// retrieveStatus maps a retrieval error to an HTTP status: 502 when every
// search backend failed, 504 on timeout, 500 otherwise.
func retrieveStatus(ctx context.Context, err error) int {
	switch {
	case errors.Is(err, rag.ErrAllRankingsFailed):
		return http.StatusBadGateway
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleDocuments handles GET /api/documents.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.ListDocuments(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("list documents failed", slog.Any("error", err))
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	out := make([]documentView, 0, len(docs))
	for i := range docs {
		v := documentView{Document: docs[i], Stages: make(map[string]string, len(stage.All))}
		for _, st := range stage.All {
			v.Stages[string(st)] = stage.StateOf(&docs[i], st).String()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEvent emits one named SSE event.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
	flusher.Flush()
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
