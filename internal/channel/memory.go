package channel

import (
	"context"
	"fmt"
	"sync"

	"TreasurySentinel/internal/model"

	"github.com/rs/zerolog"
)

const mailboxSize = 1024

// MemoryBus is an in-process substrate. Undelivered messages wait in a
// per-agent mailbox until that agent's adapter is initialized, then in the
// adapter until its first Subscribe.
type MemoryBus struct {
	mu        sync.Mutex
	mailboxes map[string]chan []byte
	filter    func(model.AgentMessage) bool
	log       zerolog.Logger
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus(log zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		mailboxes: make(map[string]chan []byte),
		log:       log.With().Str("component", "memory_bus").Logger(),
	}
}

// SetFilter installs a hook consulted for every sent message; returning false
// drops the message after the sender was told it was accepted.
func (b *MemoryBus) SetFilter(fn func(model.AgentMessage) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = fn
}

// Adapter returns a new adapter bound to agentID.
func (b *MemoryBus) Adapter(agentID string) *MemoryAdapter {
	return &MemoryAdapter{
		bus:     b,
		agentID: agentID,
		log:     b.log.With().Str("agent", agentID).Logger(),
	}
}

func (b *MemoryBus) mailbox(agentID string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.mailboxes[agentID]
	if !ok {
		mb = make(chan []byte, mailboxSize)
		b.mailboxes[agentID] = mb
	}
	return mb
}

func (b *MemoryBus) deliver(ctx context.Context, msg model.AgentMessage) error {
	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	b.mu.Lock()
	filter := b.filter
	b.mu.Unlock()
	if filter != nil && !filter(msg) {
		b.log.Debug().Str("id", msg.ID).Str("to", msg.To).Msg("message dropped by filter")
		return nil
	}

	select {
	case b.mailbox(msg.To) <- data:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: mailbox %s full: %v", ErrDeliveryFailed, msg.To, ctx.Err())
	}
}

// MemoryAdapter is an Adapter on a MemoryBus.
type MemoryAdapter struct {
	lifecycle
	bus     *MemoryBus
	agentID string
	log     zerolog.Logger

	out  *fanout
	stop chan struct{}
	wg   sync.WaitGroup
}

func (a *MemoryAdapter) AgentID() string { return a.agentID }

func (a *MemoryAdapter) Initialize(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disconnected {
		return ErrDisconnected
	}
	if a.initialized {
		return nil
	}
	a.out = newFanout()
	a.stop = make(chan struct{})
	a.initialized = true

	a.wg.Add(1)
	go a.pump(a.bus.mailbox(a.agentID))
	a.log.Info().Msg("memory channel initialized")
	return nil
}

func (a *MemoryAdapter) pump(mailbox chan []byte) {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		select {
		case <-a.stop:
			return
		case data := <-mailbox:
			msg, err := Unmarshal(data)
			if err != nil {
				a.log.Error().Err(err).Msg("discarding undecodable message")
				continue
			}
			a.out.publish(msg)
		}
	}
}

func (a *MemoryAdapter) Send(ctx context.Context, msg model.AgentMessage) error {
	if err := a.sendReady(); err != nil {
		return err
	}
	return a.bus.deliver(ctx, msg)
}

func (a *MemoryAdapter) Subscribe(_ context.Context) (<-chan model.AgentMessage, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.out.subscribe()
}

func (a *MemoryAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	if a.disconnected {
		a.mu.Unlock()
		return nil
	}
	wasInitialized := a.initialized
	a.disconnected = true
	a.mu.Unlock()

	if wasInitialized {
		close(a.stop)
		a.out.close()
		a.wg.Wait()
	}
	a.log.Info().Msg("memory channel disconnected")
	return nil
}
