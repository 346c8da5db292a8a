package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/nuka-mind/internal/api"
	"github.com/nidhogg/nuka-mind/internal/cognitive"
	"github.com/nidhogg/nuka-mind/internal/daemon"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/store"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp opens the runtime for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func scanCmd() *cobra.Command {
	var agent, mock string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the System 1 watchdog scan once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				scanner, _, err := a.cognition(mock)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				res, err := cognitive.ScanOnce(ctx, a.store, scanner, agent, time.Now, a.logger)
				if errors.Is(err, cognitive.ErrScanInProgress) {
					fmt.Fprintf(os.Stdout, "scan already running for %s\n", agent)
					return errNotCompleted
				}
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id")
	cmd.Flags().StringVar(&mock, "mock-response", "", "canned System 1 decision, e.g. \"YES: test\"")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func runLoopCmd() *cobra.Command {
	var agent, mock string
	cmd := &cobra.Command{
		Use:   "run-loop",
		Short: "Run one full cognitive loop (gates, System 1, System 2)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				_, loop, err := a.cognition(mock)
				if err != nil {
					return err
				}
				// Cancellation stops the backend call so the row is released.
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				res := loop.Run(ctx, agent)
				if err := printJSON(res); err != nil {
					return err
				}
				if !res.Completed {
					return errNotCompleted
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id")
	cmd.Flags().StringVar(&mock, "mock-s1", "", "canned System 1 decision; System 2 is mocked too")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func scoreCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Recompute activation scores for memories and beliefs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scopes := []memory.Scope{memory.ScopeMemories, memory.ScopeBeliefs}
			switch scope {
			case "all":
			case string(memory.ScopeMemories), string(memory.ScopeBeliefs):
				scopes = []memory.Scope{memory.Scope(scope)}
			default:
				return fmt.Errorf("unknown scope %q", scope)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				scorer := a.scorer()
				for _, s := range scopes {
					ranked, err := scorer.Rescan(ctx, a.store, s)
					if err != nil {
						return err
					}
					printRanked(s, ranked)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "memories, beliefs or all")
	return cmd
}

// printRanked shows the ten strongest and ten weakest items.
func printRanked(scope memory.Scope, ranked []memory.Ranked) {
	fmt.Printf("%s: %d scored\n", scope, len(ranked))
	if len(ranked) == 0 {
		return
	}
	n := min(10, len(ranked))
	fmt.Println("  top:")
	for _, r := range ranked[:n] {
		fmt.Printf("    %10.6f  %s\n", r.Score, memory.Truncate(r.Item.Content, 70))
	}
	fmt.Println("  bottom:")
	for _, r := range ranked[len(ranked)-n:] {
		fmt.Printf("    %10.6f  %s\n", r.Score, memory.Truncate(r.Item.Content, 70))
	}
}

func retrieveCmd() *cobra.Command {
	var (
		agent, query string
		queries      []string
		limit        int
		touch        bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Rank an agent's memories plus the shared namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ranked, err := a.retriever().Retrieve(ctx, memory.Query{
					AgentID:  agent,
					Keywords: queries,
					Legacy:   query,
					Limit:    limit,
					Touch:    touch,
				})
				if err != nil {
					return err
				}
				for _, line := range memory.FormatRecall(ranked, 120) {
					fmt.Println(line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id")
	cmd.Flags().StringVar(&query, "query", "", "free-text query; falls back to the full ranking when nothing matches")
	cmd.Flags().StringSliceVar(&queries, "queries", nil, "keywords; no match means no results")
	cmd.Flags().IntVar(&limit, "limit", memory.DefaultRetrieveLimit, "maximum results")
	cmd.Flags().BoolVar(&touch, "touch", false, "record an access on returned memories")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Rewrite importance and decay rate from content heuristics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.store.SeedHeuristics(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Flush the write-ahead log into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.Checkpoint(ctx); err != nil {
					return err
				}
				size, err := a.store.WALSize(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("wal size after checkpoint: %.1f MB\n", float64(size)/(1<<20))
				return nil
			})
		},
	}
}

func stateCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show scheduler state for one agent, or all agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if agent == "" {
					states, err := a.store.ListStates(ctx)
					if err != nil {
						return err
					}
					return printJSON(states)
				}
				st, err := a.store.GetState(ctx, agent)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no scheduler state for %s", agent)
				}
				if err != nil {
					return err
				}
				return printJSON(st)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id")
	return cmd
}

func auditCmd() *cobra.Command {
	var (
		agent  string
		limit  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit log, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				events, err := a.store.ListAudit(ctx, agent, limit)
				if err != nil {
					return err
				}
				for _, e := range events {
					printEvent(e)
				}
				if !follow {
					return nil
				}
				if !a.trail.Mirrored() || agent == "" {
					return errors.New("--follow needs redis.url and --agent")
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				for e := range a.trail.Follow(ctx, agent) {
					printEvent(e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id; empty lists all")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new events from the redis mirror")
	return cmd
}

func printEvent(e store.AuditEvent) {
	fmt.Printf("%s  %-12s %-28s %s\n", e.TS.Format(time.RFC3339), e.Agent, e.Action, e.Detail)
}

func rememberCmd() *cobra.Command {
	var (
		agent, content, category, entryType, source string
		belief                                      bool
		importance                                  float64
	)
	cmd := &cobra.Command{
		Use:   "remember",
		Short: "Store a memory (or a belief) for an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(content) == "" {
				return errors.New("--content is required")
			}
			it := store.NewItem{
				AgentID:   agent,
				Content:   content,
				Category:  category,
				EntryType: entryType,
				Source:    source,
			}
			if cmd.Flags().Changed("importance") {
				it.Importance = &importance
			} else {
				imp := memory.InferImportance(content)
				decay := memory.InferDecay(entryType, content)
				it.Importance, it.DecayRate = &imp, &decay
			}
			scope := memory.ScopeMemories
			if belief {
				scope = memory.ScopeBeliefs
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				id, err := a.store.InsertItem(ctx, scope, it)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "owner agent id, or __shared__")
	cmd.Flags().StringVar(&content, "content", "", "text to remember")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&entryType, "entry-type", "", "entry type used for the decay heuristic")
	cmd.Flags().StringVar(&source, "source", "cli", "source tag")
	cmd.Flags().BoolVar(&belief, "belief", false, "store as a belief instead of a memory")
	cmd.Flags().Float64Var(&importance, "importance", 0, "importance; inferred from content when unset")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func serveCmd() *cobra.Command {
	var noDaemon bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the heartbeat daemon and the HTTP status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				scanner, loop, err := a.cognition("")
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				g, gctx := errgroup.WithContext(ctx)

				var hb *daemon.Heartbeat
				if !noDaemon {
					hb = daemon.NewHeartbeat(a.cfg.Daemon.Interval.Std(), loop.Run, func(ctx context.Context) ([]string, error) {
						states, err := a.store.ListStates(ctx)
						if err != nil {
							return nil, err
						}
						ids := make([]string, len(states))
						for i, s := range states {
							ids[i] = s.AgentID
						}
						return ids, nil
					}, a.logger)
					hb.SetAgents(a.cfg.Daemon.Agents)
					g.Go(func() error { return hb.Run(gctx) })
				}

				handler := api.NewHandler(a.store, loop, scanner, a.retriever(), a.scorer(), hb, a.alerts, a.logger)
				srv := &http.Server{
					Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
					Handler:           handler.Router(),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					a.logger.Info("nuka-mind listening", zap.String("addr", srv.Addr))
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("http server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					a.logger.Info("shutting down nuka-mind")
					sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "serve the API without the heartbeat")
	return cmd
}
