package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"TreasurySentinel/internal/model"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second
)

// AgentPath is the relay endpoint an agent connects to.
func AgentPath(agentID string) string {
	return "/agents/" + url.PathEscape(agentID) + "/ws"
}

// WebSocketAdapter exchanges wire records with a Relay.
type WebSocketAdapter struct {
	lifecycle
	relayURL string
	agentID  string
	log      zerolog.Logger

	conn   *websocket.Conn
	out    *fanout
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebSocketAdapter creates an adapter for agentID against relayURL (ws:// or wss://).
func NewWebSocketAdapter(relayURL, agentID string, log zerolog.Logger) *WebSocketAdapter {
	return &WebSocketAdapter{
		relayURL: strings.TrimRight(relayURL, "/"),
		agentID:  agentID,
		log:      log.With().Str("component", "websocket_channel").Str("agent", agentID).Logger(),
	}
}

func (a *WebSocketAdapter) AgentID() string { return a.agentID }

// Initialize dials the relay and starts the read loop.
func (a *WebSocketAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disconnected {
		return ErrDisconnected
	}
	if a.initialized {
		return nil
	}

	wsURL := a.relayURL + AgentPath(a.agentID)
	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrDeliveryFailed, wsURL, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	a.conn = conn
	a.out = newFanout()
	a.cancel = cancel
	a.initialized = true

	a.wg.Add(1)
	go a.readMessages(readCtx, conn)
	a.log.Info().Str("url", wsURL).Msg("websocket channel initialized")
	return nil
}

func (a *WebSocketAdapter) readMessages(ctx context.Context, conn *websocket.Conn) {
	defer a.wg.Done()
	defer a.out.close()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				a.log.Info().Int("status", int(status)).Msg("relay closed connection")
			case ctx.Err() != nil:
				a.log.Debug().Msg("read cancelled")
			default:
				a.log.Error().Err(err).Msg("unexpected websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		msg, err := Unmarshal(data)
		if err != nil {
			a.log.Error().Err(err).Msg("discarding undecodable frame")
			continue
		}
		if msg.To != a.agentID {
			a.log.Warn().Str("id", msg.ID).Str("to", msg.To).Msg("frame addressed to another agent")
			continue
		}
		a.out.publish(msg)
	}
}

func (a *WebSocketAdapter) Send(ctx context.Context, msg model.AgentMessage) error {
	a.mu.Lock()
	if err := a.sendReadyLocked(); err != nil {
		a.mu.Unlock()
		return err
	}
	conn := a.conn
	a.mu.Unlock()

	data, err := Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (a *WebSocketAdapter) Subscribe(_ context.Context) (<-chan model.AgentMessage, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.out.subscribe()
}

// Disconnect closes the connection with a normal closure.
func (a *WebSocketAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	if a.disconnected {
		a.mu.Unlock()
		return nil
	}
	wasInitialized := a.initialized
	a.disconnected = true
	a.mu.Unlock()

	if !wasInitialized {
		return nil
	}
	// cancelling the read context unblocks the read loop before the close handshake
	a.cancel()
	if err := a.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		a.log.Debug().Err(err).Msg("close handshake incomplete")
	}
	a.wg.Wait()
	a.log.Info().Msg("websocket channel disconnected")
	return nil
}
