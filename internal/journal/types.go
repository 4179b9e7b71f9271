package journal

import "time"

// Delivery is one resolved publish as stored in the journal.
type Delivery struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	Identity   string    `json:"identity"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at"`
	LatencyMS  int64     `json:"latency_ms"`
}

// SessionEvent is one session lifecycle transition.
type SessionEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Identity  string    `json:"identity"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which deliveries to return.
type Filter struct {
	Status   string // optional: acknowledged or failed
	Identity string // optional: only this session identity
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains one page of deliveries, most recent first.
type ListResult struct {
	Deliveries []Delivery `json:"deliveries"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// Page size bounds for List queries.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// normalise clamps the paging fields.
func (f Filter) normalise() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
