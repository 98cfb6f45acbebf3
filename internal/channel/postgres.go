package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"TreasurySentinel/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agent_messages (
	id                UUID PRIMARY KEY,
	from_agent        TEXT NOT NULL,
	to_agent          TEXT NOT NULL,
	type              TEXT NOT NULL,
	encrypted_payload TEXT NOT NULL,
	timestamp         BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_to ON agent_messages(to_agent, created_at);
`

const (
	insertMessageSQL = `INSERT INTO agent_messages
		(id, from_agent, to_agent, type, encrypted_payload, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`
	selectMessageSQL = `SELECT id::text, from_agent, to_agent, type, encrypted_payload, timestamp
		FROM agent_messages WHERE id = $1`
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying message ids for agentID.
func NotifyChannel(agentID string) string {
	return "agent_" + strings.ToLower(agentID)
}

// PostgresAdapter stores messages in agent_messages and announces each insert
// with pg_notify on the recipient's channel.
type PostgresAdapter struct {
	lifecycle
	pool    *pgxpool.Pool
	agentID string
	log     zerolog.Logger

	out    *fanout
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresAdapter binds agentID to the shared pool.
func NewPostgresAdapter(pool *pgxpool.Pool, agentID string, log zerolog.Logger) *PostgresAdapter {
	return &PostgresAdapter{
		pool:    pool,
		agentID: agentID,
		log:     log.With().Str("component", "postgres_channel").Str("agent", agentID).Logger(),
	}
}

func (a *PostgresAdapter) AgentID() string { return a.agentID }

// Initialize ensures the schema exists and starts listening for this agent.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disconnected {
		return ErrDisconnected
	}
	if a.initialized {
		return nil
	}

	if _, err := a.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: migrate agent_messages: %v", ErrDeliveryFailed, err)
	}
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire listener: %v", ErrDeliveryFailed, err)
	}
	listen := "LISTEN " + pgx.Identifier{NotifyChannel(a.agentID)}.Sanitize()
	if _, err := conn.Exec(ctx, listen); err != nil {
		conn.Release()
		return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, listen, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	a.out = newFanout()
	a.cancel = cancel
	a.initialized = true

	a.wg.Add(1)
	go a.listen(listenCtx, conn)
	a.log.Info().Str("channel", NotifyChannel(a.agentID)).Msg("postgres channel initialized")
	return nil
}

func (a *PostgresAdapter) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer a.wg.Done()
	defer func() {
		// the listening session may be mid-read; never hand it back to the pool
		raw := conn.Hijack()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = raw.Close(closeCtx)
		a.out.close()
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.log.Error().Err(err).Msg("listener stopped")
			}
			return
		}
		msg, err := a.load(ctx, n.Payload)
		if err != nil {
			a.log.Error().Err(err).Str("id", n.Payload).Msg("discarding notified message")
			continue
		}
		a.out.publish(msg)
	}
}

func (a *PostgresAdapter) load(ctx context.Context, id string) (model.AgentMessage, error) {
	var rec WireRecord
	var typ string
	err := a.pool.QueryRow(ctx, selectMessageSQL, id).
		Scan(&rec.ID, &rec.From, &rec.To, &typ, &rec.EncryptedPayload, &rec.Timestamp)
	if err != nil {
		return model.AgentMessage{}, fmt.Errorf("%w: load %s: %v", ErrDecode, id, err)
	}
	rec.Type = model.MessageType(typ)
	return Decode(rec)
}

// Send inserts the row and notifies the recipient in one transaction.
func (a *PostgresAdapter) Send(ctx context.Context, msg model.AgentMessage) error {
	if err := a.sendReady(); err != nil {
		return err
	}
	rec, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	err = pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertMessageSQL,
			rec.ID, rec.From, rec.To, string(rec.Type), rec.EncryptedPayload, rec.Timestamp); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel(rec.To), rec.ID); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	a.log.Debug().Str("id", rec.ID).Str("to", rec.To).Str("type", string(rec.Type)).Msg("message sent")
	return nil
}

func (a *PostgresAdapter) Subscribe(_ context.Context) (<-chan model.AgentMessage, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	return a.out.subscribe()
}

// Disconnect stops the listener. The pool is owned by the caller.
func (a *PostgresAdapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	if a.disconnected {
		a.mu.Unlock()
		return nil
	}
	wasInitialized := a.initialized
	a.disconnected = true
	a.mu.Unlock()

	if wasInitialized {
		a.cancel()
		a.wg.Wait()
	}
	a.log.Info().Msg("postgres channel disconnected")
	return nil
}
