package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"log/slog"
)

// postgresStore persists sessions in the engine's own sessions table.
// Per-subject serialization comes from SELECT ... FOR UPDATE row locks, so
// concurrent deliveries for one subject queue on the row instead of
// overwriting each other.
type postgresStore struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

// NewPostgresStore constructs a Store backed by the sessions table.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration) Store {
	return &postgresStore{db: db, ttl: ttl, now: time.Now}
}

type sessionRow struct {
	SubjectID    string     `db:"subject_id"`
	Flow         string     `db:"flow"`
	State        string     `db:"current_state"`
	Data         []byte     `db:"data"`
	CreatedAt    time.Time  `db:"created_at"`
	LastActivity time.Time  `db:"last_activity"`
	ExpiresAt    time.Time  `db:"expires_at"`
	RemindedAt   *time.Time `db:"reminder_sent_at"`
}

func (r *sessionRow) toSession() (*Session, error) {
	data := make(map[string]any)
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, fmt.Errorf("session data decode for %s: %w", r.SubjectID, err)
		}
	}
	return &Session{
		SubjectID:    r.SubjectID,
		Flow:         Flow(r.Flow),
		State:        State(r.State),
		Data:         data,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
		ExpiresAt:    r.ExpiresAt,
		RemindedAt:   r.RemindedAt,
	}, nil
}

const selectForUpdate = `SELECT subject_id, flow, current_state, data, created_at, last_activity, expires_at, reminder_sent_at
FROM sessions WHERE subject_id = $1 FOR UPDATE`

func (p *postgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session tx begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.DB.Warn("session tx rollback failed",
				slog.String("event", "session.tx"),
				slog.String("err", rbErr.Error()),
			)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session tx commit: %w", err)
	}
	return nil
}

func lockRow(ctx context.Context, tx *sqlx.Tx, subjectID string) (*sessionRow, error) {
	var row sessionRow
	err := tx.GetContext(ctx, &row, selectForUpdate, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session select for %s: %w", subjectID, err)
	}
	return &row, nil
}

// Get returns the live session, sliding its expiry forward inside the same
// transaction that read it. Expired rows are deleted on read.
func (p *postgresStore) Get(ctx context.Context, subjectID string) (*Session, error) {
	var out *Session
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := lockRow(ctx, tx, subjectID)
		if err != nil || row == nil {
			return err
		}

		now := p.now()
		if !now.Before(row.ExpiresAt) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE subject_id = $1`, subjectID); err != nil {
				return fmt.Errorf("session expire delete for %s: %w", subjectID, err)
			}
			return nil
		}

		expires := now.Add(p.ttl)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity = $2, expires_at = $3, reminder_sent_at = NULL WHERE subject_id = $1`,
			subjectID, now, expires,
		); err != nil {
			return fmt.Errorf("session refresh for %s: %w", subjectID, err)
		}
		row.LastActivity = now
		row.ExpiresAt = expires
		row.RemindedAt = nil

		out, err = row.toSession()
		return err
	})
	return out, err
}

// Peek reads without refreshing or deleting anything.
func (p *postgresStore) Peek(ctx context.Context, subjectID string) (*Session, error) {
	var row sessionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT subject_id, flow, current_state, data, created_at, last_activity, expires_at, reminder_sent_at
		 FROM sessions WHERE subject_id = $1`, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session peek for %s: %w", subjectID, err)
	}
	return row.toSession()
}

// Set creates or merge-updates the session and resets its TTL window.
// The data column is merged with the JSONB || operator, which replaces
// top-level keys wholesale and matches the documented shallow merge.
func (p *postgresStore) Set(ctx context.Context, subjectID string, partial Partial) (*Session, error) {
	var out *Session
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := lockRow(ctx, tx, subjectID)
		if err != nil {
			return err
		}

		now := p.now()
		expires := now.Add(p.ttl)

		data := partial.Data
		if data == nil {
			data = map[string]any{}
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("session data encode for %s: %w", subjectID, err)
		}

		if row == nil || !now.Before(row.ExpiresAt) {
			flow, state := "", ""
			if partial.Flow != nil {
				flow = string(*partial.Flow)
			}
			if partial.State != nil {
				state = string(*partial.State)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sessions (subject_id, flow, current_state, data, created_at, last_activity, expires_at, reminder_sent_at)
				 VALUES ($1, $2, $3, $4, $5, $5, $6, NULL)
				 ON CONFLICT (subject_id) DO UPDATE SET
				   flow = EXCLUDED.flow,
				   current_state = EXCLUDED.current_state,
				   data = EXCLUDED.data,
				   created_at = EXCLUDED.created_at,
				   last_activity = EXCLUDED.last_activity,
				   expires_at = EXCLUDED.expires_at,
				   reminder_sent_at = NULL`,
				subjectID, flow, state, encoded, now, expires,
			); err != nil {
				return fmt.Errorf("session insert for %s: %w", subjectID, err)
			}
		} else {
			flow := string(row.Flow)
			if partial.Flow != nil {
				flow = string(*partial.Flow)
			}
			state := row.State
			if partial.State != nil {
				state = string(*partial.State)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE sessions SET flow = $2, current_state = $3, data = data || $4::jsonb,
				   last_activity = $5, expires_at = $6, reminder_sent_at = NULL
				 WHERE subject_id = $1`,
				subjectID, flow, state, encoded, now, expires,
			); err != nil {
				return fmt.Errorf("session update for %s: %w", subjectID, err)
			}
		}

		fresh, err := lockRow(ctx, tx, subjectID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return fmt.Errorf("session set for %s: row vanished inside transaction", subjectID)
		}
		out, err = fresh.toSession()
		return err
	})
	return out, err
}

// Update merges data into an existing session; absent subjects are a no-op.
func (p *postgresStore) Update(ctx context.Context, subjectID string, data map[string]any) (*Session, error) {
	var out *Session
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		row, err := lockRow(ctx, tx, subjectID)
		if err != nil || row == nil {
			return err
		}

		now := p.now()
		if !now.Before(row.ExpiresAt) {
			return nil
		}

		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("session data encode for %s: %w", subjectID, err)
		}
		expires := now.Add(p.ttl)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET data = data || $2::jsonb, last_activity = $3, expires_at = $4, reminder_sent_at = NULL
			 WHERE subject_id = $1`,
			subjectID, encoded, now, expires,
		); err != nil {
			return fmt.Errorf("session update for %s: %w", subjectID, err)
		}

		fresh, err := lockRow(ctx, tx, subjectID)
		if err != nil || fresh == nil {
			return err
		}
		out, err = fresh.toSession()
		return err
	})
	return out, err
}

// Clear removes the session row; clearing an absent subject is not an error.
func (p *postgresStore) Clear(ctx context.Context, subjectID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE subject_id = $1`, subjectID); err != nil {
		return fmt.Errorf("session clear for %s: %w", subjectID, err)
	}
	return nil
}

// Active lists subjects with a stored session. The table is the index, so
// no separate bookkeeping can drift here.
func (p *postgresStore) Active(ctx context.Context) ([]string, error) {
	var out []string
	if err := p.db.SelectContext(ctx, &out, `SELECT subject_id FROM sessions`); err != nil {
		return nil, fmt.Errorf("session active list: %w", err)
	}
	return out, nil
}

// MarkReminded stamps the idle-warning marker without touching activity.
func (p *postgresStore) MarkReminded(ctx context.Context, subjectID string, at time.Time) error {
	if _, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET reminder_sent_at = $2 WHERE subject_id = $1`, subjectID, at,
	); err != nil {
		return fmt.Errorf("session mark reminded for %s: %w", subjectID, err)
	}
	return nil
}
