//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
	"github.com/nidhogg/nuka-mind/internal/memory"
)

// startPostgres starts a PostgreSQL testcontainer and returns an open,
// migrated store.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mind_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres")
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "pg connection string")

	s, err := Open(ctx, Postgres, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresSchedulerState(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.EnsureState(ctx, "forge")
	require.NoError(t, err)
	_, err = s.EnsureState(ctx, "forge")
	require.NoError(t, err)

	ok, err := s.TryBeginScan(ctx, "forge", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TryBeginScan(ctx, "forge", now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordDeliberation(ctx, "forge", "2026-03-01", now))
	require.NoError(t, s.RecordDeliberation(ctx, "forge", "2026-03-01", now))
	n, err := s.DailyCount(ctx, "forge", "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.DailyCount(ctx, "forge", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err := s.GetState(ctx, "forge")
	require.NoError(t, err)
	assert.Equal(t, cognitive.StatusIdle, st.ScanStatus)
}

func TestPostgresRetrievalAndAudit(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	_, err := s.InsertItem(ctx, memory.ScopeMemories, NewItem{AgentID: "forge", Content: "pipeline flakes on cold cache", Importance: fp(6)})
	require.NoError(t, err)
	_, err = s.InsertItem(ctx, memory.ScopeMemories, NewItem{AgentID: memory.SharedNamespace, Content: "release freeze on fridays", Importance: fp(4)})
	require.NoError(t, err)

	r := memory.NewRetriever(s, "", zap.NewNop())
	got, err := r.Retrieve(ctx, memory.Query{AgentID: "forge", Touch: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ranked, err := memory.NewScorer(memory.ZeroNoise, zap.NewNop()).Rescan(ctx, s, memory.ScopeMemories)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)

	require.NoError(t, s.AppendAudit(ctx, time.Now(), "forge", "system1_scan", "decision=NO"))
	events, err := s.ListAudit(ctx, "forge", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)

	size, err := s.WALSize(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
	require.NoError(t, s.Checkpoint(ctx))

	fixed, err := s.EnsurePermissions(ctx)
	require.NoError(t, err)
	assert.Empty(t, fixed)
}
