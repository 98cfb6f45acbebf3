package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	defaultBacklog = 1024
	peerQueueSize  = 256
)

// Relay routes wire records between connected agents by to_agent. Records for
// an agent that is not connected are held in a bounded backlog.
type Relay struct {
	mu         sync.Mutex
	peers      map[string]map[*relayPeer]struct{}
	backlog    map[string][][]byte
	maxBacklog int
	log        zerolog.Logger
}

type relayPeer struct {
	agentID string
	conn    *websocket.Conn
	queue   chan []byte
	closed  bool
	slow    bool
}

// NewRelay creates a relay holding at most maxBacklog records per absent agent.
func NewRelay(maxBacklog int, log zerolog.Logger) *Relay {
	if maxBacklog <= 0 {
		maxBacklog = defaultBacklog
	}
	return &Relay{
		peers:      make(map[string]map[*relayPeer]struct{}),
		backlog:    make(map[string][][]byte),
		maxBacklog: maxBacklog,
		log:        log.With().Str("component", "relay").Logger(),
	}
}

// RegisterRoutes mounts the relay endpoints.
func (r *Relay) RegisterRoutes(router chi.Router) {
	router.Get("/healthz", r.handleHealth)
	router.Get("/agents/{agentID}/ws", r.handleAgent)
}

// Handler returns a router serving only the relay endpoints.
func (r *Relay) Handler() http.Handler {
	router := chi.NewRouter()
	r.RegisterRoutes(router)
	return router
}

// Serve runs the relay on addr until ctx is cancelled.
func (r *Relay) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		r.log.Info().Str("addr", addr).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	connected := 0
	for _, ps := range r.peers {
		connected += len(ps)
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"peers":  connected,
	})
}

func (r *Relay) handleAgent(w http.ResponseWriter, req *http.Request) {
	agentID := chi.URLParam(req, "agentID")
	if agentID == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Str("agent", agentID).Msg("websocket accept failed")
		return
	}

	p := &relayPeer{agentID: agentID, conn: conn}
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	r.register(p)
	defer r.unregister(p)

	go r.writeLoop(ctx, p)
	r.readLoop(ctx, p)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (r *Relay) register(p *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.agentID] == nil {
		r.peers[p.agentID] = make(map[*relayPeer]struct{})
	}
	r.peers[p.agentID][p] = struct{}{}

	pending := r.backlog[p.agentID]
	delete(r.backlog, p.agentID)
	p.queue = make(chan []byte, peerQueueSize+len(pending))
	for _, data := range pending {
		r.enqueueLocked(p, data)
	}
	r.log.Info().Str("agent", p.agentID).Int("backlog", len(pending)).Msg("agent connected")
}

func (r *Relay) unregister(p *relayPeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers[p.agentID], p)
	if len(r.peers[p.agentID]) == 0 {
		delete(r.peers, p.agentID)
	}
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	r.log.Info().Str("agent", p.agentID).Msg("agent disconnected")
}

// enqueueLocked keeps per-peer order because every enqueue happens under r.mu.
// A peer whose queue is full is dropped from routing; its writer closes the
// connection once the queue drains, and frames go to the backlog until the
// agent reconnects.
func (r *Relay) enqueueLocked(p *relayPeer, data []byte) {
	if !p.closed {
		select {
		case p.queue <- data:
			return
		default:
		}
		r.log.Error().Str("agent", p.agentID).Msg("peer queue full, closing slow consumer")
		p.closed = true
		p.slow = true
		close(p.queue)
		delete(r.peers[p.agentID], p)
		if len(r.peers[p.agentID]) == 0 {
			delete(r.peers, p.agentID)
		}
	}
	if len(r.peers[p.agentID]) == 0 {
		r.backlogLocked(p.agentID, data)
	}
}

func (r *Relay) backlogLocked(to string, data []byte) {
	q := append(r.backlog[to], data)
	if len(q) > r.maxBacklog {
		r.log.Warn().Str("agent", to).Int("dropped", len(q)-r.maxBacklog).Msg("backlog full, dropping oldest")
		q = q[len(q)-r.maxBacklog:]
	}
	r.backlog[to] = q
}

func (r *Relay) route(to string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := r.peers[to]
	if len(peers) == 0 {
		r.backlogLocked(to, data)
		return
	}
	for p := range peers {
		r.enqueueLocked(p, data)
	}
}

func (r *Relay) readLoop(ctx context.Context, p *relayPeer) {
	for {
		msgType, data, err := p.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				r.log.Debug().Err(err).Str("agent", p.agentID).Msg("read loop ended")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		var rec WireRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.To == "" {
			r.log.Warn().Str("agent", p.agentID).Msg("dropping frame without recipient")
			continue
		}
		r.route(rec.To, data)
	}
}

func (r *Relay) writeLoop(ctx context.Context, p *relayPeer) {
	for data := range p.queue {
		writeCtx, cancel := context.WithTimeout(ctx, writeWait)
		err := p.conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("agent", p.agentID).Msg("write to agent failed")
			p.conn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}

	r.mu.Lock()
	slow := p.slow
	r.mu.Unlock()
	if slow {
		p.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
	}
}
