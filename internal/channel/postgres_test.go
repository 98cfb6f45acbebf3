package channel

import (
	"context"
	"os"
	"testing"

	"TreasurySentinel/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("SENTINEL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SENTINEL_TEST_PG_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresAdapter_SendReceive(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	rm := NewPostgresAdapter(pool, model.AgentRiskMonitor, zerolog.Nop())
	pm := NewPostgresAdapter(pool, model.AgentPortfolioManager, zerolog.Nop())
	require.NoError(t, rm.Initialize(ctx))
	require.NoError(t, pm.Initialize(ctx))
	defer rm.Disconnect(ctx)
	defer pm.Disconnect(ctx)

	s, err := pm.Subscribe(ctx)
	require.NoError(t, err)

	msg := errorMsg(model.AgentRiskMonitor, model.AgentPortfolioManager, "hello")
	require.NoError(t, rm.Send(ctx, msg))

	got := receive(t, s)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hello", got.Error.Message)
}

func TestPostgresAdapter_NotInitialized(t *testing.T) {
	a := NewPostgresAdapter(nil, "a", zerolog.Nop())
	assert.ErrorIs(t, a.Send(context.Background(), errorMsg("a", "b", "x")), ErrNotInitialized)
	assert.NoError(t, a.Disconnect(context.Background()))
}

func TestNotifyChannel(t *testing.T) {
	assert.Equal(t, "agent_risk-monitor", NotifyChannel("Risk-Monitor"))
}
