package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/astrorag-go/internal/evidence"
	"github.com/54b3r/astrorag-go/internal/qa"
	"github.com/54b3r/astrorag-go/internal/rag"
	"github.com/54b3r/astrorag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single /api/ask or /api/retrieve request, from
	// retrieval to the last streamed token. Defaults to 5m.
	AskTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker is the question-answering surface the handlers call.
// *qa.Engine satisfies it; tests inject a fake.
type asker interface {
	// Retrieve returns the evidence package and rankings for question.
	Retrieve(ctx context.Context, question string) (*evidence.Package, *rag.Results, error)
	// Ask streams the answer to w and returns the full response.
	Ask(ctx context.Context, question string, w io.Writer) (*qa.Answer, error)
}

// documentLister lists the registered documents.
// *store.SQLiteStore satisfies it.
type documentLister interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
}

// Server is the HTTP server that exposes the question-answering engine.
type Server struct {
	// engine answers /api/ask and /api/retrieve.
	engine asker
	// docs backs /api/documents.
	docs documentLister
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus metrics of this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// questionRequest is the JSON body for POST /api/ask and POST /api/retrieve.
type questionRequest struct {
	// Question is the natural language question.
	Question string `json:"question"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	Question       string                `json:"question"`
	TextEvidence   []evidence.TextItem   `json:"text_evidence"`
	FigureEvidence []evidence.FigureItem `json:"figure_evidence"`
	// Context is the rendered evidence block as the model would see it.
	Context string `json:"context"`
	// Results holds the individual and fused rankings.
	Results *rag.Results `json:"results"`
}

// documentView is one entry of GET /api/documents.
type documentView struct {
	store.Document
	// Stages maps each stage name to its state (never_run, stale, up_to_date).
	Stages map[string]string `json:"stages"`
}
