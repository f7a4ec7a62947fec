package campaign

import (
	"errors"

	"telecom-dialer/internal/outcome"
)

// Status is a target's progress. Waiting and Calling are transient; every
// other value is terminal and is reached exactly once.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalling   Status = "calling"
	StatusConnected Status = "connected"
	StatusNoAnswer  Status = "no_answer"
	StatusBusy      Status = "busy"
	StatusVoicemail Status = "voicemail"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

func (s Status) Terminal() bool {
	return s != StatusWaiting && s != StatusCalling && s != ""
}

func statusFor(d outcome.Disposition) Status {
	switch d {
	case outcome.DispositionConnected:
		return StatusConnected
	case outcome.DispositionNoAnswer:
		return StatusNoAnswer
	case outcome.DispositionBusy:
		return StatusBusy
	case outcome.DispositionVoicemail:
		return StatusVoicemail
	case outcome.DispositionSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

type State string

const (
	StateNotStarted State = "not_started"
	StateDialing    State = "dialing_current"
	StateAwaiting   State = "awaiting_disposition"
	StateAdvancing  State = "advancing"
	StatePaused     State = "paused"
	StateFinished   State = "finished"
)

var (
	ErrInvalidState       = errors.New("campaign: operation not valid in current state")
	ErrNoTargets          = errors.New("campaign: no targets")
	ErrInvalidDisposition = errors.New("campaign: invalid disposition")
	ErrInvalidTarget      = errors.New("campaign: invalid target")
)

// Target is one contact in dial order. The contact source owns ID, Name
// and Phone; the campaign only writes the progress fields.
type Target struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name"`
	Phone string `json:"phone" yaml:"phone"`

	Status Status `json:"status" yaml:"-"`
	Notes  string `json:"notes,omitempty" yaml:"notes,omitempty"`
	CallID string `json:"call_id,omitempty" yaml:"-"`
	Error  string `json:"error,omitempty" yaml:"-"`

	invalid bool
}

// Snapshot is a read-only view of a campaign.
type Snapshot struct {
	ID            string   `json:"id"`
	State         State    `json:"state"`
	Paused        bool     `json:"paused"`
	Cursor        int      `json:"cursor"`
	Total         int      `json:"total"`
	CurrentCallID string   `json:"current_call_id,omitempty"`
	HaltError     string   `json:"halt_error,omitempty"`
	Targets       []Target `json:"targets"`
}

// Done counts targets with a terminal status.
func (s Snapshot) Done() int {
	n := 0
	for _, t := range s.Targets {
		if t.Status.Terminal() {
			n++
		}
	}
	return n
}
