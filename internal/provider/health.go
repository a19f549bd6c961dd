package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpHealthCheck checks a backend's model-listing endpoint, which answers
// without running inference.
type httpHealthCheck struct {
	client  *http.Client
	url     string
	headers map[string]string
}

// NewHealthChecker returns a token-free HealthChecker for cfg's backend, or
// nil when the backend offers no cheap health check (ark, gemini). A nil client
// selects a client with a 10s timeout.
func NewHealthChecker(cfg *Config, client *http.Client) HealthChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			client: client,
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
		}
	case BackendOpenAI:
		return &httpHealthCheck{
			client:  client,
			url:     "https://api.openai.com/v1/models",
			headers: map[string]string{"Authorization": "Bearer " + cfg.OpenAI.APIKey},
		}
	case BackendAzure:
		q := url.Values{"api-version": {cfg.AzureOpenAI.APIVersion}}
		return &httpHealthCheck{
			client:  client,
			url:     strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") + "/openai/models?" + q.Encode(),
			headers: map[string]string{"api-key": cfg.AzureOpenAI.APIKey},
		}
	}
	return nil
}

// HealthCheck issues a GET and treats any 2xx status as healthy.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: build health request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check returned status %d", resp.StatusCode)
	}
	return nil
}
