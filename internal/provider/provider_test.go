package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func anthropicServer(t *testing.T, text string, status int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		var req anthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"overloaded"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "msg_1",
			"model":   req.Model,
			"content": []map[string]string{{"type": "text", "text": text}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 3},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openAIServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-oai" {
			t.Errorf("got auth %q, want bearer token", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl_1",
			"model":   "gpt-test",
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": text}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicChat(t *testing.T) {
	srv := anthropicServer(t, " NO: nothing pending \n", http.StatusOK)
	p := NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "haiku",
		Messages: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "scan"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "NO: nothing pending" {
		t.Fatalf("got content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("got %d tokens, want 13", resp.Usage.TotalTokens)
	}
}

func TestAnthropicEmptyContent(t *testing.T) {
	srv := anthropicServer(t, "   ", http.StatusOK)
	p := NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: srv.URL, APIKey: "sk-test"}, nil)

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "haiku", Messages: []Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("got %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropicStatusError(t *testing.T) {
	srv := anthropicServer(t, "", http.StatusTooManyRequests)
	p := NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: srv.URL, APIKey: "sk-test"}, nil)

	_, err := p.Chat(context.Background(), &ChatRequest{Model: "haiku", Messages: []Message{{Role: "user", Content: "x"}}})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests || !se.Retryable() {
		t.Fatalf("got code %d retryable %t", se.Code, se.Retryable())
	}
	if !strings.Contains(se.Body, "overloaded") {
		t.Errorf("body %q lost", se.Body)
	}
}

func TestOpenAIChat(t *testing.T) {
	srv := openAIServer(t, "YES: a gap")
	p := NewOpenAIProvider(ProviderConfig{ID: "oai", Endpoint: srv.URL, APIKey: "sk-oai"}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "gpt-test", Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "YES: a gap" {
		t.Fatalf("got content %q", resp.Content)
	}
}

func TestRouterFallsBack(t *testing.T) {
	down := anthropicServer(t, "", http.StatusServiceUnavailable)
	up := openAIServer(t, "fallback answer")

	r := NewRouter(zap.NewNop())
	r.Register(NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: down.URL, APIKey: "sk-test"}, nil))
	r.Register(NewOpenAIProvider(ProviderConfig{ID: "oai", Endpoint: up.URL, APIKey: "sk-oai"}, nil))
	r.Bind(TierSystem2, Binding{ProviderID: "claude", Model: "sonnet"})
	r.SetFallbacks(TierSystem2, []Binding{{ProviderID: "missing"}, {ProviderID: "oai", Model: "gpt-test"}})

	c := NewRouterCompleter(r, TierSystem2, 512)
	got, err := c.Complete(context.Background(), "think", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "fallback answer" {
		t.Fatalf("got %q, want fallback answer", got)
	}
}

func TestRouterNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), TierSystem1, &ChatRequest{}); err == nil {
		t.Fatal("expected error with no providers")
	}
}

// blankProvider answers every chat with whitespace.
type blankProvider struct{}

func (blankProvider) ID() string   { return "blank" }
func (blankProvider) Name() string { return "blank" }
func (blankProvider) Chat(context.Context, *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "  \n"}, nil
}

func TestRouterCompleterEmptyAnswer(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(blankProvider{})
	r.Bind(TierSystem1, Binding{ProviderID: "blank"})

	got, err := NewRouterCompleter(r, TierSystem1, 64).Complete(context.Background(), "scan", time.Second)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("got %q, %v; want ErrEmptyResponse", got, err)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "fake-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCLICompleter(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_AGENT_ARGS", argsFile)
	script := writeScript(t, `printf '%s\n' "$@" > "$FAKE_AGENT_ARGS"
echo '{"result":{"payloads":[{"text":"YES: stale beliefs"},{"text":"ignored"}]}}'`)

	c := NewCLICompleter(script, zap.NewNop())
	got, err := c.Complete(context.Background(), "scan forge", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "YES: stale beliefs" {
		t.Fatalf("got %q", got)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(args) != 6 || args[0] != "agent" || args[1] != "--json" || args[2] != "--session-id" || args[4] != "--message" || args[5] != "scan forge" {
		t.Fatalf("got args %q", args)
	}
	if len(args[3]) != 36 {
		t.Errorf("session id %q is not a uuid", args[3])
	}
}

func TestCLICompleterFailures(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		empty bool
	}{
		{name: "exit code", body: "echo boom >&2; exit 3"},
		{name: "bad json", body: "echo not-json"},
		{name: "no payloads", body: `echo '{"result":{"payloads":[]}}'`, empty: true},
		{name: "empty text", body: `echo '{"result":{"payloads":[{"text":"  "}]}}'`, empty: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCLICompleter(writeScript(t, tc.body), nil)
			_, err := c.Complete(context.Background(), "x", 5*time.Second)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.empty && !errors.Is(err, ErrEmptyResponse) {
				t.Fatalf("got %v, want ErrEmptyResponse", err)
			}
		})
	}
}

func TestCLICompleterTimeout(t *testing.T) {
	c := NewCLICompleter(writeScript(t, "exec sleep 5"), nil)
	start := time.Now()
	_, err := c.Complete(context.Background(), "x", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout took %s", time.Since(start))
	}
}

func TestStatic(t *testing.T) {
	s := &Static{Text: "NO: idle"}
	got, err := s.Complete(context.Background(), "p", 0)
	if err != nil || got != "NO: idle" {
		t.Fatalf("got %q, %v", got, err)
	}
	if s.Calls != 1 || s.LastPrompt != "p" {
		t.Fatalf("got calls=%d prompt=%q", s.Calls, s.LastPrompt)
	}
	if _, err := (&Static{}).Complete(context.Background(), "p", 0); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("got %v, want ErrEmptyResponse", err)
	}
}

func TestStaticConcurrentCalls(t *testing.T) {
	s := &Static{Text: "NO: idle"}
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Complete(context.Background(), "p", 0); err != nil {
				t.Errorf("complete: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := s.CallCount(); got != n {
		t.Fatalf("got %d calls, want %d", got, n)
	}
}
