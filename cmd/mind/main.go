package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/nuka-mind/internal/audit"
	"github.com/nidhogg/nuka-mind/internal/cognitive"
	"github.com/nidhogg/nuka-mind/internal/config"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/notify"
	"github.com/nidhogg/nuka-mind/internal/provider"
	"github.com/nidhogg/nuka-mind/internal/store"
)

// errNotCompleted makes the process exit 1 without printing usage.
var errNotCompleted = errors.New("loop did not complete")

var cfgPath string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "mind",
		Short:         "Bounded attention cycle for worker agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CONFIG_PATH"),
		"config file (JSON or YAML); defaults apply when empty")

	root.AddCommand(
		scanCmd(),
		runLoopCmd(),
		scoreCmd(),
		retrieveCmd(),
		seedCmd(),
		checkpointCmd(),
		stateCmd(),
		auditCmd(),
		rememberCmd(),
		serveCmd(),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errNotCompleted) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

// app is the wired runtime shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	trail  *audit.Trail
	alerts *notify.Broadcaster
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

// buildLogger writes to stderr so stdout carries only command output.
func buildLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Dialect(cfg.Database.Driver), cfg.Database.Target(), logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	trail := audit.NewTrail(st, logger)
	if cfg.Redis.URL != "" {
		if err := trail.Connect(ctx, cfg.Redis.URL); err != nil {
			logger.Warn("Redis unavailable, audit trail not mirrored", zap.Error(err))
		}
	}

	var sinks []notify.Sink
	if cfg.Notify.SlackWebhook != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.Notify.SlackWebhook, cfg.Notify.Username))
	}
	if cfg.Notify.DiscordWebhook != "" {
		d, err := notify.NewDiscordSink(cfg.Notify.DiscordWebhook, cfg.Notify.Username)
		if err != nil {
			logger.Warn("discord webhook ignored", zap.Error(err))
		} else {
			sinks = append(sinks, d)
		}
	}
	source := cfg.Notify.Source
	if source == "" {
		source = "nuka-mind"
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		trail:  trail,
		alerts: notify.NewBroadcaster(source, logger, sinks...),
	}, nil
}

func (a *app) Close() {
	if err := a.trail.Close(); err != nil {
		a.logger.Warn("close audit mirror", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// backends returns the System 1 and System 2 completers. A non-empty mock
// decision replaces both with canned output.
func (a *app) backends(mockDecision string) (provider.Completer, provider.Completer, error) {
	b := a.cfg.Backend
	if mockDecision == "" && b.Type == "mock" {
		mockDecision = b.MockResponse
		if mockDecision == "" {
			mockDecision = "NO: mock backend"
		}
	}
	if mockDecision != "" {
		a.logger.Info("mock backend", zap.String("system1", mockDecision))
		return &provider.Static{Text: mockDecision}, &provider.Static{Text: cognitive.MockAction}, nil
	}

	switch b.Type {
	case "cli":
		c := provider.NewCLICompleter(b.Command, a.logger)
		c.Args = b.Args
		return c, c, nil
	case "provider":
		router := provider.NewRouter(a.logger)
		for _, pc := range a.cfg.Providers {
			switch pc.Type {
			case "openai":
				router.Register(provider.NewOpenAIProvider(pc.Provider(), a.logger))
			case "anthropic":
				router.Register(provider.NewAnthropicProvider(pc.Provider(), a.logger))
			default:
				a.logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			}
		}
		for tier, binding := range b.Tiers {
			router.Bind(provider.Tier(tier), binding)
		}
		for tier, chain := range b.Fallbacks {
			router.SetFallbacks(provider.Tier(tier), chain)
		}
		return provider.NewRouterCompleter(router, provider.TierSystem1, b.MaxTokens),
			provider.NewRouterCompleter(router, provider.TierSystem2, b.MaxTokens), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", b.Type)
	}
}

func (a *app) retriever() *memory.Retriever {
	return memory.NewRetriever(a.store, a.cfg.Scheduler.SharedNamespace, a.logger)
}

func (a *app) scorer() *memory.Scorer {
	s := memory.NewScorer(nil, a.logger)
	s.Sigma = a.cfg.Scheduler.NoiseSigma
	return s
}

// cognition wires the scanner, deliberator and loop over the store.
func (a *app) cognition(mockDecision string) (*cognitive.Scanner, *cognitive.Orchestrator, error) {
	s1, s2, err := a.backends(mockDecision)
	if err != nil {
		return nil, nil, err
	}
	sc := a.cfg.Scheduler
	st := a.store

	scanner := cognitive.NewScanner(st, cognitive.SnapshotSources{
		Beliefs:   st,
		Messages:  st,
		Proposals: st,
		Gaps:      st,
	}, s1, a.trail, a.logger)
	scanner.DailyCap = sc.DailyCap
	scanner.Timeout = sc.System1Timeout.Std()

	thinker := cognitive.NewDeliberator(st, s2, a.trail, a.logger)
	thinker.Beliefs = st
	thinker.Recall = a.retriever()
	thinker.Messages = st
	thinker.Proposals = st
	thinker.Gaps = st
	thinker.Writer = st
	thinker.DailyCap = sc.DailyCap
	thinker.Timeout = sc.System2Timeout.Std()

	loop := cognitive.NewOrchestrator(st, st, scanner, thinker, a.trail, a.alerts, a.logger)
	loop.WALLimit = int64(sc.WALLimitMB) << 20
	loop.DailyCap = sc.DailyCap
	return scanner, loop, nil
}
