package audit

import (
	"context"
	"database/sql"

	"telecom-dialer/pkg/utils"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS operator_audit (
  id            UUID PRIMARY KEY,
  type          TEXT NOT NULL,
  action        TEXT NOT NULL,
  actor_user_id TEXT,
  actor_role    TEXT,
  ip_address    TEXT,
  campaign_id   TEXT,
  call_id       TEXT,
  outcome       TEXT NOT NULL,
  metadata      TEXT,
  created_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS operator_audit_created_idx ON operator_audit (created_at DESC)`,
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, schema)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO operator_audit (
  id, type, action, actor_user_id, actor_role, ip_address, campaign_id, call_id, outcome, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.Action,
		e.ActorUserID, e.ActorRole, e.IPAddress,
		e.CampaignID, e.CallID, e.Outcome, e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, type, action, actor_user_id, actor_role, ip_address, campaign_id, call_id, outcome, metadata, created_at
FROM operator_audit
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                                         Event
			typ                                       string
			actor, role, ip, campaignID, callID, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &e.Action, &actor, &role, &ip, &campaignID, &callID, &e.Outcome, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.ActorUserID, e.ActorRole, e.IPAddress = actor.String, role.String, ip.String
		e.CampaignID, e.CallID, e.Metadata = campaignID.String, callID.String, meta.String
		out = append(out, e)
	}
	return out, rows.Err()
}
