package channel

import (
	"sync"

	"TreasurySentinel/internal/model"
)

const (
	subscriberBuffer = 64
	// pendingLimit bounds what is held for an adapter nobody subscribed to yet.
	pendingLimit = 1024
)

// fanout delivers every published message to every subscriber stream.
// Messages published before the first subscribe are held and handed to the
// first subscriber.
type fanout struct {
	mu       sync.RWMutex
	subs     []chan model.AgentMessage
	pending  []model.AgentMessage
	attached bool
	closed   bool
	done     chan struct{}
	once     sync.Once
}

func newFanout() *fanout {
	return &fanout{done: make(chan struct{})}
}

func (f *fanout) subscribe() (<-chan model.AgentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrDisconnected
	}
	ch := make(chan model.AgentMessage, subscriberBuffer+len(f.pending))
	for _, msg := range f.pending {
		ch <- msg
	}
	f.pending = nil
	f.attached = true
	f.subs = append(f.subs, ch)
	return ch, nil
}

// publish blocks until every subscriber took the message or the fanout is closed.
func (f *fanout) publish(msg model.AgentMessage) {
	if f.hold(msg) {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, ch := range f.subs {
		select {
		case ch <- msg:
		case <-f.done:
			return
		}
	}
}

// hold keeps msg while nobody has subscribed, dropping the oldest beyond
// pendingLimit. It reports whether publish is done with msg.
func (f *fanout) hold(msg model.AgentMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return true
	}
	if f.attached {
		return false
	}
	f.pending = append(f.pending, msg)
	if len(f.pending) > pendingLimit {
		f.pending = f.pending[len(f.pending)-pendingLimit:]
	}
	return true
}

func (f *fanout) close() {
	f.once.Do(func() {
		close(f.done)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = true
		for _, ch := range f.subs {
			close(ch)
		}
		f.subs = nil
		f.pending = nil
	})
}
