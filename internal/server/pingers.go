package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/astrorag-go/internal/logging"
	"github.com/54b3r/astrorag-go/internal/provider"
)

// LLMPinger checks an LLM backend. It prefers the backend's zero-cost HTTP
// health check and only sends a one-message Generate request for backends
// that have none.
type LLMPinger struct {
	// model is the chat model used by the Generate fallback.
	model model.BaseChatModel
	// checker is the HTTP health check of the backend; nil when the backend
	// has no health endpoint.
	checker provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the backend described by cfg.
func NewLLMPinger(m model.BaseChatModel, cfg *provider.Config) *LLMPinger {
	return &LLMPinger{
		model:   m,
		checker: provider.NewHealthChecker(cfg, nil),
		name:    "llm:" + string(cfg.Backend),
	}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping checks the LLM backend for readiness.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.checker != nil {
		if err := p.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return nil
	}

	logging.FromContext(ctx).Debug("pinger: no health endpoint, probing with Generate",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to check.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// StorePinger checks the metadata store.
type StorePinger struct {
	db interface {
		Ping(ctx context.Context) error
	}
}

// NewStorePinger constructs a StorePinger. *store.SQLiteStore satisfies db.
func NewStorePinger(db interface {
	Ping(ctx context.Context) error
}) *StorePinger {
	return &StorePinger{db: db}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "sqlite" }

// Ping checks the database connection.
func (p *StorePinger) Ping(ctx context.Context) error { return p.db.Ping(ctx) }

// ToolPinger reports whether an external command-line tool is installed.
type ToolPinger struct {
	name  string
	check func() error
}

// NewToolPinger constructs a ToolPinger. check is typically the Available
// method of an extract renderer or OCR engine.
func NewToolPinger(name string, check func() error) *ToolPinger {
	return &ToolPinger{name: name, check: check}
}

// Name returns the tool label used in readiness responses.
func (p *ToolPinger) Name() string { return p.name }

// Ping runs the availability check.
func (p *ToolPinger) Ping(context.Context) error { return p.check() }
