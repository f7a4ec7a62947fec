package audit

import "time"

// Event is an immutable, append-only record of an operator action against
// the dialer (device bring-up, call control, campaign control).
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block call control on audit failures.
//
// Storage (Postgres):
// - Table operator_audit with an INSERT-only policy.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`
	// Action is the concrete operation, e.g. "campaign.skip".
	Action string `json:"action" db:"action"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// ActorRole may include hidden roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	// Outcome is "ok" or the error returned to the operator.
	Outcome string `json:"outcome" db:"outcome"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeDevice   EventType = "device"
	EventTypeCall     EventType = "call"
	EventTypeCampaign EventType = "campaign"
	EventTypeOutcome  EventType = "outcome"
)

func (t EventType) valid() bool {
	switch t {
	case EventTypeDevice, EventTypeCall, EventTypeCampaign, EventTypeOutcome:
		return true
	}
	return false
}
