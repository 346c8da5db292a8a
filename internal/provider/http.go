package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 4096
)

// StatusError is a non-200 answer from an HTTP backend.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Code, e.Body)
}

// Retryable reports whether another provider might succeed where this one
// failed: rate limits and server-side errors.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// httpBackend is the JSON-over-HTTP plumbing shared by the providers.
type httpBackend struct {
	kind   string
	config ProviderConfig
	client *http.Client
	logger *zap.Logger
}

func newHTTPBackend(kind, defaultEndpoint string, cfg ProviderConfig, logger *zap.Logger) httpBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Name == "" {
		cfg.Name = kind
	}
	return httpBackend{
		kind:   kind,
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("provider", cfg.ID)),
	}
}

func (b *httpBackend) ID() string   { return b.config.ID }
func (b *httpBackend) Name() string { return b.config.Name }

// postJSON sends in as JSON to url and decodes a 200 answer into out.
func (b *httpBackend) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		b.logger.Warn("backend returned an error",
			zap.Int("status", resp.StatusCode),
			zap.Duration("took", time.Since(start)))
		return &StatusError{Provider: b.kind, Code: resp.StatusCode, Body: string(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
