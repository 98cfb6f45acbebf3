package recorder

import (
	"time"

	"TreasurySentinel/internal/model"
)

// Cycle outcomes.
const (
	OutcomeHealthy          = "HEALTHY"
	OutcomeProposed         = "PROPOSED"
	OutcomeTimeout          = "TIMEOUT"
	OutcomeCounterpartError = "COUNTERPART_ERROR"
	OutcomeFailed           = "FAILED"
)

// CycleRecord holds everything produced by one analysis cycle.
type CycleRecord struct {
	Source     string // "cron", "command", "cli"
	Outcome    string
	Assessment *model.RiskAssessment    // nil when the cycle failed before analysis
	Response   *model.RebalanceResponse // nil unless a proposal was received
	Error      string
	Duration   time.Duration
}

// CycleSummary is a stored cycle as read back for status reports.
type CycleSummary struct {
	ID           int64
	Timestamp    time.Time
	Source       string
	Outcome      string
	TVL          float64
	StablesRatio float64
	RiskScore    float64
	Breached     bool
	Actions      int
}

// Recorder persists analysis history.
type Recorder interface {
	RecordCycle(rec *CycleRecord) error
	RecentCycles(limit int) ([]CycleSummary, error)
	Close() error
}
