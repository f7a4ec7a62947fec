package outcome

import (
	"context"
	"database/sql"
	"time"

	"telecom-dialer/pkg/utils"
)

// NOTE: This repository assumes the tables created by EnsureSchema:
// - call_outcomes (immutable append-only)
// - campaign_progress (projection)
//
// Appends are idempotent on id so a retried insert never double counts
// the projection.

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_outcomes (
  id               UUID PRIMARY KEY,
  campaign_id      TEXT,
  target_id        TEXT,
  phone            TEXT NOT NULL,
  call_id          TEXT,
  direction        TEXT,
  disposition      TEXT NOT NULL,
  notes            TEXT,
  error            TEXT,
  started_at       TIMESTAMPTZ,
  ended_at         TIMESTAMPTZ,
  duration_seconds INT NOT NULL DEFAULT 0,
  created_at       TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS call_outcomes_campaign_idx ON call_outcomes (campaign_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS campaign_progress (
  campaign_id     TEXT PRIMARY KEY,
  completed       INT NOT NULL DEFAULT 0,
  connected       INT NOT NULL DEFAULT 0,
  last_target_id  TEXT,
  updated_at      TIMESTAMPTZ NOT NULL
)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the tables if they are missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, schema)
}

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := insertOutcome(ctx, tx, rec)
		if err != nil || !inserted || rec.CampaignID == "" {
			return err
		}
		return bumpProgress(ctx, tx, rec)
	})
}

func insertOutcome(ctx context.Context, tx *sql.Tx, rec Record) (bool, error) {
	const q = `
INSERT INTO call_outcomes (
  id, campaign_id, target_id, phone, call_id, direction, disposition, notes, error,
  started_at, ended_at, duration_seconds, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (id) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q,
		rec.ID,
		nullString(rec.CampaignID),
		nullString(rec.TargetID),
		rec.Phone,
		nullString(rec.CallID),
		nullString(rec.Direction),
		string(rec.Disposition),
		nullString(rec.Notes),
		nullString(rec.Error),
		nullTime(rec.StartedAt),
		nullTime(rec.EndedAt),
		rec.DurationSeconds,
		rec.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func bumpProgress(ctx context.Context, tx *sql.Tx, rec Record) error {
	const q = `
INSERT INTO campaign_progress (campaign_id, completed, connected, last_target_id, updated_at)
VALUES ($1, 1, $2, $3, $4)
ON CONFLICT (campaign_id) DO UPDATE SET
  completed      = campaign_progress.completed + 1,
  connected      = campaign_progress.connected + EXCLUDED.connected,
  last_target_id = EXCLUDED.last_target_id,
  updated_at     = EXCLUDED.updated_at
`
	connected := 0
	if rec.Disposition == DispositionConnected {
		connected = 1
	}
	_, err := tx.ExecContext(ctx, q, rec.CampaignID, connected, nullString(rec.TargetID), rec.CreatedAt)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
