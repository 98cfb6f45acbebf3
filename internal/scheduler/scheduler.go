package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TreasurySentinel/internal/collector"
	"TreasurySentinel/internal/model"
	"TreasurySentinel/internal/notifier"
	"TreasurySentinel/internal/orchestrator"
	"TreasurySentinel/internal/recorder"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Cycle sources recorded with each run.
const (
	SourceCron    = "cron"
	SourceCommand = "command"
	SourceCLI     = "cli"
)

// Sender delivers formatted reports.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Treasury is the per-cycle input that does not come from the collector.
type Treasury struct {
	MonthlyBurn float64
	Thresholds  model.Thresholds
}

// Scheduler runs analysis cycles on a cron schedule and on demand.
type Scheduler struct {
	Cron         *cron.Cron
	Collector    *collector.Collector
	Orchestrator *orchestrator.Orchestrator
	Notifier     Sender // optional
	Recorder     recorder.Recorder
	Treasury     Treasury
	Ctx          context.Context
	log          zerolog.Logger
	now          func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, col *collector.Collector, orch *orchestrator.Orchestrator, n Sender, rec recorder.Recorder, tr Treasury, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Cron:         cron.New(cron.WithSeconds()),
		Collector:    col,
		Orchestrator: orch,
		Notifier:     n,
		Recorder:     rec,
		Treasury:     tr,
		Ctx:          ctx,
		log:          log.With().Str("component", "scheduler").Logger(),
		now:          time.Now,
	}
}

// Register adds the analysis job.
func (s *Scheduler) Register(analysisCron string) error {
	if _, err := s.Cron.AddFunc(analysisCron, func() {
		if _, err := s.RunCycle(s.Ctx, SourceCron); err != nil {
			s.log.Error().Err(err).Msg("scheduled analysis")
		}
	}); err != nil {
		return fmt.Errorf("register analysis task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunCycle collects a snapshot, runs the coordination handshake, then reports
// and records the outcome. ErrAnalysisInFlight is returned without recording.
func (s *Scheduler) RunCycle(ctx context.Context, source string) (*orchestrator.AnalysisResult, error) {
	start := s.now()
	s.log.Info().Str("source", source).Msg("running treasury analysis")

	snap, err := s.Collector.Collect(ctx)
	if err != nil {
		s.trySend(ctx, notifier.FormatCycleFailure("collect", err))
		s.record(&recorder.CycleRecord{Source: source, Outcome: recorder.OutcomeFailed, Error: err.Error(), Duration: s.now().Sub(start)})
		return nil, fmt.Errorf("collect: %w", err)
	}

	res, err := s.Orchestrator.RunTreasuryAnalysis(ctx, orchestrator.AnalysisInput{
		Balances:    snap.Balances,
		Prices:      snap.Prices,
		MonthlyBurn: s.Treasury.MonthlyBurn,
		Thresholds:  s.Treasury.Thresholds,
	})
	if errors.Is(err, orchestrator.ErrAnalysisInFlight) {
		return nil, err
	}

	rec := &recorder.CycleRecord{Source: source, Duration: s.now().Sub(start)}
	if res != nil {
		rec.Assessment = res.Assessment
		rec.Response = res.Proposal
		s.trySend(ctx, notifier.FormatRiskReport(res.Assessment, s.now()))
	}
	switch {
	case err == nil && res.Proposal != nil:
		rec.Outcome = recorder.OutcomeProposed
		s.trySend(ctx, notifier.FormatProposal(res.Proposal))
	case err == nil:
		rec.Outcome = recorder.OutcomeHealthy
	case errors.Is(err, orchestrator.ErrRebalanceTimeout):
		rec.Outcome = recorder.OutcomeTimeout
	case errors.Is(err, orchestrator.ErrCounterpart):
		rec.Outcome = recorder.OutcomeCounterpartError
	default:
		rec.Outcome = recorder.OutcomeFailed
	}
	if err != nil {
		rec.Error = err.Error()
		s.trySend(ctx, notifier.FormatCycleFailure("coordinate", err))
	}
	s.record(rec)

	s.log.Info().Str("source", source).Str("outcome", rec.Outcome).Dur("took", rec.Duration).Msg("treasury analysis finished")
	return res, err
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "/analyze":
		if _, err := s.RunCycle(ctx, SourceCommand); errors.Is(err, orchestrator.ErrAnalysisInFlight) {
			return "⏳ An analysis is already running."
		}
		// reports were already sent by the cycle
		return ""
	case "/status":
		cycles, err := s.Recorder.RecentCycles(5)
		if err != nil {
			s.log.Error().Err(err).Msg("read recent cycles")
			return "❌ Could not read analysis history."
		}
		return notifier.FormatHistory(cycles, s.now()) + fmt.Sprintf("\nCoordinator: %s, dropped responses: %d",
			s.Orchestrator.State(), s.Orchestrator.DroppedResponses())
	default:
		return notifier.HelpText()
	}
}

func (s *Scheduler) record(rec *recorder.CycleRecord) {
	if err := s.Recorder.RecordCycle(rec); err != nil {
		s.log.Error().Err(err).Msg("record cycle")
	}
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}
