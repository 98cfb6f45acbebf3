package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"TreasurySentinel/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSQLiteRecorder_RecordCycle(t *testing.T) {
	r := openTestRecorder(t)

	healthy := &CycleRecord{
		Source:  "cron",
		Outcome: OutcomeHealthy,
		Assessment: &model.RiskAssessment{
			Metrics: model.TreasuryMetrics{TVL: 1000, StablesRatio: 0.5, ConcentrationRisk: 0.5, Runway: model.Unlimited},
		},
		Duration: 12 * time.Millisecond,
	}
	require.NoError(t, r.RecordCycle(healthy))

	proposed := &CycleRecord{
		Source:  "command",
		Outcome: OutcomeProposed,
		Assessment: &model.RiskAssessment{
			Metrics:  model.TreasuryMetrics{TVL: 510, StablesRatio: 0.0196, RiskScore: 0.6, Runway: 4.2},
			Breached: true,
			Factors: []model.FactorScore{
				{Name: "stables_shortfall", Weighted: 0.38},
				{Name: "concentration_excess", Weighted: 0.2},
				{Name: "runway_shortfall", Weighted: 0},
			},
		},
		Response: &model.RebalanceResponse{
			InReplyTo: "t-1",
			Actions: []model.AllocationAction{
				{Type: model.ActionSwap, FromToken: "DGOV", ToToken: "USDC", AmountUSD: 102, Reason: "r"},
			},
			Proposal: "# Treasury Rebalancing Proposal",
			Summary:  model.RebalanceSummary{ProjectedStablesRatio: 0.22, TotalMovedUSD: 102},
		},
	}
	require.NoError(t, r.RecordCycle(proposed))

	require.NoError(t, r.RecordCycle(&CycleRecord{Source: "cli", Outcome: OutcomeFailed, Error: "fetch balances: boom"}))

	cycles, err := r.RecentCycles(10)
	require.NoError(t, err)
	require.Len(t, cycles, 3)

	assert.Equal(t, OutcomeFailed, cycles[0].Outcome)
	assert.Zero(t, cycles[0].TVL)

	assert.Equal(t, OutcomeProposed, cycles[1].Outcome)
	assert.True(t, cycles[1].Breached)
	assert.Equal(t, 1, cycles[1].Actions)
	assert.InDelta(t, 510, cycles[1].TVL, 1e-9)

	assert.Equal(t, "cron", cycles[2].Source)
	assert.False(t, cycles[2].Breached)

	var runway *float64
	require.NoError(t, r.db.QueryRow(`SELECT runway_months FROM analysis_cycles WHERE id = ?`, cycles[2].ID).Scan(&runway))
	assert.Nil(t, runway, "unlimited runway stored as NULL")

	var moved float64
	require.NoError(t, r.db.QueryRow(`SELECT SUM(amount_usd) FROM rebalance_actions WHERE cycle_id = ?`, cycles[1].ID).Scan(&moved))
	assert.InDelta(t, 102, moved, 1e-9)
}

func TestSQLiteRecorder_RecentCyclesLimit(t *testing.T) {
	r := openTestRecorder(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.RecordCycle(&CycleRecord{Outcome: OutcomeHealthy}))
	}
	cycles, err := r.RecentCycles(2)
	require.NoError(t, err)
	assert.Len(t, cycles, 2)
	assert.Greater(t, cycles[0].ID, cycles[1].ID)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordCycle(&CycleRecord{}))
	cycles, err := r.RecentCycles(5)
	assert.NoError(t, err)
	assert.Empty(t, cycles)
	assert.NoError(t, r.Close())
}
