// Package orchestrator runs the risk-monitor / portfolio-manager handshake:
// one trigger, one correlated response, bounded by a deadline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TreasurySentinel/internal/allocator"
	"TreasurySentinel/internal/channel"
	"TreasurySentinel/internal/model"
	"TreasurySentinel/internal/strategy"

	"github.com/rs/zerolog"
)

// DefaultResponseTimeout bounds how long a cycle waits for the counterpart.
const DefaultResponseTimeout = 30 * time.Second

const seenTriggerLimit = 256

var (
	// ErrAnalysisInFlight is returned when a cycle is started while another is running.
	ErrAnalysisInFlight = errors.New("treasury analysis already in flight")
	// ErrRebalanceTimeout is returned when no correlated response arrived before the deadline.
	ErrRebalanceTimeout = errors.New("rebalance response timed out")
	// ErrCounterpart is returned when the portfolio manager answered with an error payload.
	ErrCounterpart = errors.New("portfolio manager failed")
	// ErrAdapterIdentity is returned when an adapter is wired to the wrong identity.
	ErrAdapterIdentity = errors.New("adapter identity mismatch")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// State is the coordination state of an Orchestrator.
type State string

const (
	StateIdle             State = "idle"
	StateAnalyzing        State = "analyzing"
	StateAwaitingResponse State = "awaiting_response"
)

// Config wires identities, policy and the response deadline.
type Config struct {
	RiskMonitorID      string
	PortfolioManagerID string
	Policy             model.AllocationPolicy
	ResponseTimeout    time.Duration
}

// AnalysisInput is one snapshot of the treasury.
type AnalysisInput struct {
	Balances    []model.TokenBalance
	Prices      model.PriceTable
	MonthlyBurn float64
	Thresholds  model.Thresholds
}

// AnalysisResult is the outcome of a cycle. Proposal is nil when no
// threshold was breached.
type AnalysisResult struct {
	Assessment *model.RiskAssessment
	Proposal   *model.RebalanceResponse
}

type pendingWait struct {
	triggerID string
	reply     chan model.AgentMessage
	deadline  time.Time
}

// Orchestrator owns both agent identities and the single pending-wait slot.
type Orchestrator struct {
	cfg  Config
	risk channel.Adapter
	pm   channel.Adapter
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	pending *pendingWait
	started bool

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string

	dropped atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the wiring. risk must be bound to cfg.RiskMonitorID and pm to
// cfg.PortfolioManagerID.
func New(cfg Config, risk, pm channel.Adapter, log zerolog.Logger) (*Orchestrator, error) {
	if cfg.RiskMonitorID == "" {
		cfg.RiskMonitorID = model.AgentRiskMonitor
	}
	if cfg.PortfolioManagerID == "" {
		cfg.PortfolioManagerID = model.AgentPortfolioManager
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.RiskMonitorID == cfg.PortfolioManagerID {
		return nil, fmt.Errorf("%w: both agents are %q", ErrAdapterIdentity, cfg.RiskMonitorID)
	}
	if risk.AgentID() != cfg.RiskMonitorID {
		return nil, fmt.Errorf("%w: risk adapter is %q, want %q", ErrAdapterIdentity, risk.AgentID(), cfg.RiskMonitorID)
	}
	if pm.AgentID() != cfg.PortfolioManagerID {
		return nil, fmt.Errorf("%w: portfolio adapter is %q, want %q", ErrAdapterIdentity, pm.AgentID(), cfg.PortfolioManagerID)
	}
	if err := allocator.ValidatePolicy(cfg.Policy); err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:   cfg,
		risk:  risk,
		pm:    pm,
		log:   log.With().Str("component", "orchestrator").Logger(),
		state: StateIdle,
		seen:  make(map[string]struct{}),
	}, nil
}

// Start initializes both adapters and launches one dispatch loop per identity.
// It may be called once; on failure both adapters are disconnected.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()

	riskStream, pmStream, err := o.open(ctx)
	if err != nil {
		if derr := errors.Join(o.risk.Disconnect(ctx), o.pm.Disconnect(ctx)); derr != nil {
			o.log.Warn().Err(derr).Msg("release adapters after failed start")
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	o.wg.Add(2)
	go o.dispatchRiskMonitor(riskStream)
	go o.dispatchPortfolioManager(loopCtx, pmStream)

	o.log.Info().
		Str("risk_monitor", o.cfg.RiskMonitorID).
		Str("portfolio_manager", o.cfg.PortfolioManagerID).
		Dur("response_timeout", o.cfg.ResponseTimeout).
		Msg("orchestrator started")
	return nil
}

func (o *Orchestrator) open(ctx context.Context) (<-chan model.AgentMessage, <-chan model.AgentMessage, error) {
	if err := o.risk.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize %s: %w", o.cfg.RiskMonitorID, err)
	}
	if err := o.pm.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize %s: %w", o.cfg.PortfolioManagerID, err)
	}
	riskStream, err := o.risk.Subscribe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", o.cfg.RiskMonitorID, err)
	}
	pmStream, err := o.pm.Subscribe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", o.cfg.PortfolioManagerID, err)
	}
	return riskStream, pmStream, nil
}

// Close stops the dispatch loops and disconnects both adapters.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	errRisk := o.risk.Disconnect(ctx)
	errPM := o.pm.Disconnect(ctx)
	o.wg.Wait()
	o.log.Info().Msg("orchestrator closed")
	return errors.Join(errRisk, errPM)
}

// State reports the current coordination state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// DroppedResponses counts responses that arrived with no matching wait.
func (o *Orchestrator) DroppedResponses() int64 {
	return o.dropped.Load()
}

// RunTreasuryAnalysis computes the risk assessment and, on breach, asks the
// portfolio manager for a rebalance plan. On ErrRebalanceTimeout and
// ErrCounterpart the returned result still carries the assessment.
func (o *Orchestrator) RunTreasuryAnalysis(ctx context.Context, in AnalysisInput) (*AnalysisResult, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrAnalysisInFlight
	}
	o.state = StateAnalyzing
	o.mu.Unlock()
	defer o.reset()

	assessment, err := strategy.Analyze(in.Balances, in.Prices, in.MonthlyBurn, in.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("analyze treasury: %w", err)
	}
	result := &AnalysisResult{Assessment: assessment}
	o.log.Info().
		Float64("tvl", assessment.Metrics.TVL).
		Float64("stables_ratio", assessment.Metrics.StablesRatio).
		Float64("risk_score", assessment.Metrics.RiskScore).
		Bool("breached", assessment.Breached).
		Msg("treasury analyzed")
	if !assessment.Breached {
		return result, nil
	}

	trigger := model.NewTriggerMessage(o.cfg.RiskMonitorID, o.cfg.PortfolioManagerID, &model.RiskTriggerPayload{
		Breached:    true,
		Metrics:     assessment.Metrics,
		Balances:    in.Balances,
		Prices:      in.Prices,
		Thresholds:  in.Thresholds,
		MonthlyBurn: in.MonthlyBurn,
	})
	wait := &pendingWait{
		triggerID: trigger.ID,
		reply:     make(chan model.AgentMessage, 1),
		deadline:  time.Now().Add(o.cfg.ResponseTimeout),
	}
	o.mu.Lock()
	o.pending = wait
	o.state = StateAwaitingResponse
	o.mu.Unlock()

	if err := o.risk.Send(ctx, trigger); err != nil {
		return nil, fmt.Errorf("send trigger: %w", err)
	}
	o.log.Info().Str("trigger_id", trigger.ID).Msg("rebalance trigger sent")

	timer := time.NewTimer(time.Until(wait.deadline))
	defer timer.Stop()

	select {
	case reply := <-wait.reply:
		if reply.Type == model.MessageError {
			return result, fmt.Errorf("%w: %s", ErrCounterpart, reply.Error.Message)
		}
		result.Proposal = reply.Response
		o.log.Info().
			Str("trigger_id", trigger.ID).
			Int("actions", len(reply.Response.Actions)).
			Float64("moved_usd", reply.Response.Summary.TotalMovedUSD).
			Msg("rebalance response received")
		return result, nil
	case <-timer.C:
		o.log.Warn().Str("trigger_id", trigger.ID).Dur("timeout", o.cfg.ResponseTimeout).Msg("rebalance response timed out")
		return result, fmt.Errorf("%w after %s (trigger %s)", ErrRebalanceTimeout, o.cfg.ResponseTimeout, trigger.ID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
	o.state = StateIdle
}

func (o *Orchestrator) dispatchRiskMonitor(stream <-chan model.AgentMessage) {
	defer o.wg.Done()
	for msg := range stream {
		if msg.From != o.cfg.PortfolioManagerID {
			o.log.Debug().Str("id", msg.ID).Str("from", msg.From).Msg("ignoring message from unknown sender")
			continue
		}
		var inReplyTo string
		switch msg.Type {
		case model.MessageResponse:
			inReplyTo = msg.Response.InReplyTo
		case model.MessageError:
			inReplyTo = msg.Error.InReplyTo
		default:
			o.log.Debug().Str("id", msg.ID).Str("type", string(msg.Type)).Msg("ignoring message")
			continue
		}
		o.resolve(msg, inReplyTo)
	}
}

// resolve hands msg to the pending wait if it correlates; anything else is dropped.
func (o *Orchestrator) resolve(msg model.AgentMessage, inReplyTo string) {
	o.mu.Lock()
	wait := o.pending
	if wait == nil || wait.triggerID != inReplyTo {
		o.mu.Unlock()
		o.dropped.Add(1)
		o.log.Warn().
			Str("id", msg.ID).
			Str("in_reply_to", inReplyTo).
			Bool("wait_pending", wait != nil).
			Msg("dropping uncorrelated response")
		return
	}
	o.pending = nil
	o.mu.Unlock()

	// reply has capacity 1 and pending was cleared, so this never blocks
	wait.reply <- msg
}

func (o *Orchestrator) dispatchPortfolioManager(ctx context.Context, stream <-chan model.AgentMessage) {
	defer o.wg.Done()
	for msg := range stream {
		if msg.Type != model.MessageTrigger || msg.From != o.cfg.RiskMonitorID {
			o.log.Debug().Str("id", msg.ID).Str("from", msg.From).Str("type", string(msg.Type)).Msg("ignoring message")
			continue
		}
		if !o.markSeen(msg.ID) {
			o.log.Info().Str("trigger_id", msg.ID).Msg("duplicate trigger ignored")
			continue
		}
		reply := o.handleTrigger(msg)
		if err := o.pm.Send(ctx, reply); err != nil {
			o.log.Error().Err(err).Str("trigger_id", msg.ID).Msg("send rebalance reply")
		}
	}
}

// markSeen records a trigger id and reports whether it was new.
func (o *Orchestrator) markSeen(id string) bool {
	o.seenMu.Lock()
	defer o.seenMu.Unlock()
	if _, ok := o.seen[id]; ok {
		return false
	}
	o.seen[id] = struct{}{}
	o.seenOrder = append(o.seenOrder, id)
	if len(o.seenOrder) > seenTriggerLimit {
		delete(o.seen, o.seenOrder[0])
		o.seenOrder = o.seenOrder[1:]
	}
	return true
}

func (o *Orchestrator) handleTrigger(msg model.AgentMessage) model.AgentMessage {
	p := msg.Trigger
	actions, err := allocator.SuggestRebalancing(p.Balances, p.Prices, p.Metrics.StablesRatio, p.Metrics.TVL, o.cfg.Policy)
	if err != nil {
		o.log.Error().Err(err).Str("trigger_id", msg.ID).Msg("rebalance planning failed")
		return model.NewErrorMessage(o.cfg.PortfolioManagerID, msg.From, msg.ID, err.Error())
	}
	return model.NewResponseMessage(o.cfg.PortfolioManagerID, msg.From, &model.RebalanceResponse{
		InReplyTo: msg.ID,
		Actions:   actions,
		Proposal:  allocator.GenerateProposalText(actions, p.Metrics),
		Summary:   allocator.Summarize(actions, p.Metrics.StablesRatio, p.Metrics.TVL, o.cfg.Policy),
	})
}
