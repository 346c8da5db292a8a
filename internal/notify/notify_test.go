package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type fakeSink struct {
	name string
	err  error
	got  []*Alert
}

func (f *fakeSink) Platform() string { return f.name }

func (f *fakeSink) Send(_ context.Context, a *Alert) error {
	f.got = append(f.got, a)
	return f.err
}

func TestBroadcasterFansOut(t *testing.T) {
	ok := &fakeSink{name: "slack"}
	bad := &fakeSink{name: "discord", err: errors.New("429")}
	b := NewBroadcaster("mind-01", zap.NewNop(), ok, bad)

	err := b.Send(context.Background(), &Alert{Title: "cognitive loop halted: forge", Body: "WAL too large"})
	if err == nil || !strings.Contains(err.Error(), "discord") {
		t.Fatalf("err = %v, want discord failure", err)
	}
	if len(ok.got) != 1 || ok.got[0].Source != "mind-01" {
		t.Fatalf("slack got %+v", ok.got)
	}

	hist := b.History(10)
	if len(hist) != 1 {
		t.Fatalf("history = %d, want 1", len(hist))
	}
	if got := hist[0]; len(got.Targets) != 1 || got.Targets[0] != "slack" || got.Failed[0] != "discord" {
		t.Fatalf("record = %+v", got)
	}
}

func TestBroadcasterRequiresTitle(t *testing.T) {
	b := NewBroadcaster("", nil)
	if err := b.Send(context.Background(), &Alert{Body: "x"}); err == nil {
		t.Fatalf("expected error for empty title")
	}
}

func TestHistoryBounded(t *testing.T) {
	b := NewBroadcaster("", nil)
	for i := 0; i < historyLimit+5; i++ {
		b.Alert(context.Background(), "t", "b")
	}
	if n := len(b.History(0)); n != historyLimit {
		t.Fatalf("history = %d, want %d", n, historyLimit)
	}
}

func TestSlackSinkPostsWebhook(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSink(srv.URL, "nuka-mind")
	if err := s.Send(context.Background(), &Alert{Title: "halted", Body: "WAL", Source: "host"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if payload["text"] != "*[host] halted*\nWAL" {
		t.Fatalf("text = %v", payload["text"])
	}
	if payload["username"] != "nuka-mind" {
		t.Fatalf("username = %v", payload["username"])
	}
}

func TestSlackSinkReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	if err := NewSlackSink(srv.URL, "").Send(context.Background(), &Alert{Title: "x"}); err == nil {
		t.Fatalf("expected error on 403")
	}
}

func TestParseDiscordWebhook(t *testing.T) {
	id, token, err := parseWebhook("https://discord.com/api/webhooks/1234/abc-def")
	if err != nil || id != "1234" || token != "abc-def" {
		t.Fatalf("got %q %q %v", id, token, err)
	}
	if _, _, err := parseWebhook("https://discord.com/api/channels/1234"); err == nil {
		t.Fatalf("expected error for non-webhook url")
	}
	if _, err := NewDiscordSink("https://discord.com/api/webhooks/99/tok", "nuka-mind"); err != nil {
		t.Fatalf("NewDiscordSink: %v", err)
	}
}
