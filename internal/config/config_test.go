package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadJSONWithEnv(t *testing.T) {
	t.Setenv("MIND_SLACK_HOOK", "https://hooks.slack.test/abc")
	p := writeFile(t, "mind.json", `{
		"database": {"path": "${MIND_TEST_UNSET_DB:/var/lib/mind/mind.db}"},
		"scheduler": {"system1_timeout": "45s", "system2_timeout": 120},
		"backend": {"type": "provider", "tiers": {"system1": {"provider": "claude", "model": "claude-haiku"}}},
		"providers": [{"id": "claude", "type": "anthropic", "api_key": "${MIND_TEST_UNSET_KEY:}", "timeout": "30s"}],
		"notify": {"slack_webhook": "${MIND_SLACK_HOOK}"}
	}`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/mind/mind.db" {
		t.Fatalf("path = %q", cfg.Database.Path)
	}
	if cfg.Scheduler.System1Timeout.Std() != 45*time.Second || cfg.Scheduler.System2Timeout.Std() != 120*time.Second {
		t.Fatalf("timeouts = %v %v", cfg.Scheduler.System1Timeout.Std(), cfg.Scheduler.System2Timeout.Std())
	}
	if cfg.Notify.SlackWebhook != "https://hooks.slack.test/abc" {
		t.Fatalf("slack webhook = %q", cfg.Notify.SlackWebhook)
	}
	if got := cfg.Backend.Tiers["system1"]; got.ProviderID != "claude" || got.Model != "claude-haiku" {
		t.Fatalf("tier binding = %+v", got)
	}
	if pc := cfg.Providers[0].Provider(); pc.Timeout != 30*time.Second || pc.APIKey != "" {
		t.Fatalf("provider = %+v", pc)
	}
	if cfg.Scheduler.DailyCap != 2 || cfg.Scheduler.WALLimitMB != 50 {
		t.Fatalf("defaults not applied: %+v", cfg.Scheduler)
	}
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "mind.yaml", `
database:
  driver: postgres
  dsn: postgres://mind@localhost/mind
scheduler:
  daily_cap: 3
backend:
  type: mock
  mock_response: "YES"
daemon:
  interval: 10m
  agents: [forge, sentinel]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Target() != "postgres://mind@localhost/mind" {
		t.Fatalf("target = %q", cfg.Database.Target())
	}
	if cfg.Scheduler.DailyCap != 3 || cfg.Daemon.Interval.Std() != 10*time.Minute {
		t.Fatalf("got cap %d interval %v", cfg.Scheduler.DailyCap, cfg.Daemon.Interval.Std())
	}
	if len(cfg.Daemon.Agents) != 2 || cfg.Backend.MockResponse != "YES" {
		t.Fatalf("daemon/backend = %+v %+v", cfg.Daemon, cfg.Backend)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":   `{"database": {"driver": "mysql"}}`,
		"dsn":      `{"database": {"driver": "postgres"}}`,
		"backend":  `{"backend": {"type": "carrier-pigeon"}}`,
		"provider": `{"backend": {"type": "provider"}}`,
		"duration": `{"daemon": {"interval": "soon"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "mind.json", body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Database.Target() != filepath.Join("state", "mind.db") {
		t.Fatalf("target = %q", cfg.Database.Target())
	}
	if cfg.Backend.Type != "cli" || cfg.Backend.Command != "openclaw" {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestJSONAndYAMLAgree(t *testing.T) {
	fromJSON, err := Load(writeFile(t, "mind.json", `{
		"server": {"port": 9000},
		"scheduler": {"daily_cap": 1, "system2_timeout": "2m"},
		"backend": {"type": "mock", "fallbacks": {"system2": [{"provider": "oai", "model": "gpt-test"}]}},
		"daemon": {"agents": ["forge"]}
	}`))
	if err != nil {
		t.Fatalf("Load json: %v", err)
	}
	fromYAML, err := Load(writeFile(t, "mind.yml", `
server: {port: 9000}
scheduler: {daily_cap: 1, system2_timeout: 2m}
backend:
  type: mock
  fallbacks:
    system2: [{provider: oai, model: gpt-test}]
daemon: {agents: [forge]}
`))
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Fatalf("json and yaml configs differ (-json +yaml):\n%s", diff)
	}
}
