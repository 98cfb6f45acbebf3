// Package channel carries AgentMessages between the two agent identities.
//
// Payloads are "sealed" with base64 only. This is reversible encoding, not
// encryption: anyone with access to the transport can read every payload.
// Confidentiality, if required, belongs to the transport deployment.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"TreasurySentinel/internal/model"
)

var (
	// ErrDeliveryFailed wraps every transport failure.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrDisconnected is returned by operations on a released channel.
	ErrDisconnected = errors.New("channel disconnected")
	// ErrNotInitialized is returned when Send or Subscribe precede Initialize.
	ErrNotInitialized = errors.New("channel not initialized")
	// ErrDecode marks an inbound record that could not be turned into a message.
	ErrDecode = errors.New("decode agent message")
)

// Adapter is one agent identity's view of the pub/sub substrate.
//
// Delivery is at-least-once and ordered per sender. Every Subscribe call gets
// its own stream of all inbound messages addressed to AgentID; streams are
// closed by Disconnect.
type Adapter interface {
	AgentID() string
	Initialize(ctx context.Context) error
	Send(ctx context.Context, msg model.AgentMessage) error
	Subscribe(ctx context.Context) (<-chan model.AgentMessage, error)
	Disconnect(ctx context.Context) error
}

// lifecycle tracks the Initialize/Disconnect state shared by all transports.
type lifecycle struct {
	mu           sync.Mutex
	initialized  bool
	disconnected bool
}

func (l *lifecycle) ready() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readyLocked()
}

func (l *lifecycle) readyLocked() error {
	if l.disconnected {
		return ErrDisconnected
	}
	if !l.initialized {
		return ErrNotInitialized
	}
	return nil
}

// sendReadyLocked is readyLocked for Send: a released channel is a delivery
// failure as well.
func (l *lifecycle) sendReadyLocked() error {
	err := l.readyLocked()
	if errors.Is(err, ErrDisconnected) {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return err
}

func (l *lifecycle) sendReady() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendReadyLocked()
}
