package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists analysis cycles to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while cycles are written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log.With().Str("component", "recorder").Logger()}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_cycles (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp            INTEGER NOT NULL,
			source               TEXT,
			outcome              TEXT NOT NULL,
			tvl                  REAL,
			stables_ratio        REAL,
			concentration_risk   REAL,
			runway_months        REAL,
			risk_score           REAL,
			breached             INTEGER,
			stables_shortfall    REAL,
			concentration_excess REAL,
			runway_shortfall     REAL,
			in_reply_to          TEXT,
			projected_ratio      REAL,
			total_moved_usd      REAL,
			proposal             TEXT,
			error                TEXT,
			duration_ms          INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON analysis_cycles(timestamp)`,

		`CREATE TABLE IF NOT EXISTS rebalance_actions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id   INTEGER NOT NULL REFERENCES analysis_cycles(id),
			seq        INTEGER NOT NULL,
			type       TEXT NOT NULL,
			from_token TEXT NOT NULL,
			to_token   TEXT NOT NULL,
			amount_usd REAL NOT NULL,
			reason     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_cycle ON rebalance_actions(cycle_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordCycle stores the cycle and its actions in one transaction.
func (r *SQLiteRecorder) RecordCycle(rec *CycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		tvl, stables, concentration, risk sql.NullFloat64
		runway                            sql.NullFloat64
		breached                          sql.NullBool
		factors                           = make([]sql.NullFloat64, 3)
	)
	if a := rec.Assessment; a != nil {
		m := a.Metrics
		tvl = sql.NullFloat64{Float64: m.TVL, Valid: true}
		stables = sql.NullFloat64{Float64: m.StablesRatio, Valid: true}
		concentration = sql.NullFloat64{Float64: m.ConcentrationRisk, Valid: true}
		risk = sql.NullFloat64{Float64: m.RiskScore, Valid: true}
		// unlimited runway is stored as NULL
		runway = sql.NullFloat64{Float64: float64(m.Runway), Valid: !m.Runway.IsUnlimited()}
		breached = sql.NullBool{Bool: a.Breached, Valid: true}
		for i := 0; i < len(a.Factors) && i < len(factors); i++ {
			factors[i] = sql.NullFloat64{Float64: a.Factors[i].Weighted, Valid: true}
		}
	}

	var (
		inReplyTo, proposal sql.NullString
		projected, moved    sql.NullFloat64
	)
	if resp := rec.Response; resp != nil {
		inReplyTo = sql.NullString{String: resp.InReplyTo, Valid: true}
		proposal = sql.NullString{String: resp.Proposal, Valid: true}
		projected = sql.NullFloat64{Float64: resp.Summary.ProjectedStablesRatio, Valid: true}
		moved = sql.NullFloat64{Float64: resp.Summary.TotalMovedUSD, Valid: true}
	}

	res, err := tx.Exec(`INSERT INTO analysis_cycles
		(timestamp, source, outcome, tvl, stables_ratio, concentration_risk, runway_months,
		 risk_score, breached, stables_shortfall, concentration_excess, runway_shortfall,
		 in_reply_to, projected_ratio, total_moved_usd, proposal, error, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), rec.Source, rec.Outcome,
		tvl, stables, concentration, runway, risk, breached,
		factors[0], factors[1], factors[2],
		inReplyTo, projected, moved, proposal,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	cycleID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("cycle id: %w", err)
	}

	if rec.Response != nil {
		for i, a := range rec.Response.Actions {
			if _, err := tx.Exec(`INSERT INTO rebalance_actions
				(cycle_id, seq, type, from_token, to_token, amount_usd, reason)
				VALUES (?,?,?,?,?,?,?)`,
				cycleID, i+1, a.Type, a.FromToken, a.ToToken, a.AmountUSD, a.Reason,
			); err != nil {
				return fmt.Errorf("insert action %d: %w", i+1, err)
			}
		}
	}
	return tx.Commit()
}

// RecentCycles returns up to limit cycles, newest first.
func (r *SQLiteRecorder) RecentCycles(limit int) ([]CycleSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT c.id, c.timestamp, COALESCE(c.source, ''), c.outcome,
			COALESCE(c.tvl, 0), COALESCE(c.stables_ratio, 0), COALESCE(c.risk_score, 0),
			COALESCE(c.breached, 0),
			(SELECT COUNT(*) FROM rebalance_actions a WHERE a.cycle_id = c.id)
		FROM analysis_cycles c ORDER BY c.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleSummary
	for rows.Next() {
		var (
			s  CycleSummary
			ts int64
		)
		if err := rows.Scan(&s.ID, &ts, &s.Source, &s.Outcome, &s.TVL, &s.StablesRatio, &s.RiskScore, &s.Breached, &s.Actions); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		s.Timestamp = time.Unix(ts, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
