package domain

import "time"

// SessionState enumerates the runner lifecycle.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionStarting SessionState = "starting"
	SessionActive   SessionState = "active"
	SessionStopping SessionState = "stopping"
)

// SessionStatus is the broadcastable snapshot of one automation run.
type SessionStatus struct {
	ID             string       `json:"id"`
	RecipientID    string       `json:"recipientId"`
	State          SessionState `json:"state"`
	StartedAt      time.Time    `json:"startedAt"`
	IngestedCount  int          `json:"ingestedCount"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
}
