package outcome

import "time"

// Record is the summary of one finished call handed to the sink.
//
// Invariants:
// - Exactly one record per campaign target that reaches a terminal status.
// - Manual calls (no campaign) produce a record only when the operator
//   saves one.
// - Records are append-only.
//
// Storage (Postgres):
// - call_outcomes, keyed by id, INSERT-only.
// - campaign_progress projection updated in the same transaction.
type Record struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	TargetID   string `json:"target_id,omitempty" db:"target_id"`
	Phone      string `json:"phone" db:"phone"`

	// CallID is the gateway call id; empty when no call was placed.
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	Direction string `json:"direction,omitempty" db:"direction"`

	Disposition Disposition `json:"disposition" db:"disposition"`
	Notes       string      `json:"notes,omitempty" db:"notes"`
	Error       string      `json:"error,omitempty" db:"error"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Disposition string

const (
	DispositionConnected Disposition = "connected"
	DispositionNoAnswer  Disposition = "no_answer"
	DispositionBusy      Disposition = "busy"
	DispositionVoicemail Disposition = "voicemail"
	DispositionFailed    Disposition = "failed"
	DispositionSkipped   Disposition = "skipped"
)

func (d Disposition) Valid() bool {
	switch d {
	case DispositionConnected, DispositionNoAnswer, DispositionBusy,
		DispositionVoicemail, DispositionFailed, DispositionSkipped:
		return true
	}
	return false
}
