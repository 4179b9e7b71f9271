package session

import (
	"encoding/json"
	"time"
)

// Status is the delivery state of a publish.
type Status int

// Delivery states. A record leaves Pending exactly once.
const (
	StatusPending Status = iota
	StatusAcknowledged
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets Status encode as its name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record is one outbound publish and its delivery outcome.
//
// Records handed out by the tracker are copies; the tracker owns the live
// entry until it is resolved and never changes it afterwards.
type Record struct {
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitzero"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`

	// Err holds the sentinel behind a Failed status for errors.Is checks.
	Err error `json:"-"`
}

// Resolved reports whether the record has left Pending.
func (r Record) Resolved() bool {
	return r.Status != StatusPending
}

// Latency returns the time from submission to resolution, or zero while
// the record is pending.
func (r Record) Latency() time.Duration {
	if r.ResolvedAt.IsZero() {
		return 0
	}
	return r.ResolvedAt.Sub(r.CreatedAt)
}

// MarshalJSON adds the payload as a string, which is how the console and
// the observer API display it.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		Payload string `json:"payload"`
	}{plain: plain(r), Payload: string(r.Payload)})
}
