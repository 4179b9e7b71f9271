package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-console/internal/policy"
)

// Correlation selects how acknowledgments are matched to pending publishes.
type Correlation int

const (
	// CorrelateID resolves the entry whose ID the transport reported and
	// falls back to the queue head when the transport reports no ID.
	CorrelateID Correlation = iota

	// CorrelateFIFO always resolves the queue head. This assumes the broker
	// confirms publishes in the order they were sent.
	CorrelateFIFO
)

// ParseCorrelation converts a config value to a Correlation.
func ParseCorrelation(s string) (Correlation, error) {
	switch s {
	case "", "id":
		return CorrelateID, nil
	case "fifo":
		return CorrelateFIFO, nil
	default:
		return CorrelateID, fmt.Errorf("unknown correlation mode %q (want id or fifo)", s)
	}
}

// Publisher is the slice of Conn the tracker needs.
type Publisher interface {
	Publish(msg Message) error
}

// Tracker is the pending-publish queue.
//
// Entries are kept in submission order. An entry leaves the queue in the
// same step that resolves it, so the queue never holds a resolved entry.
//
// Tracker is not safe for concurrent use; Manager serialises access.
type Tracker struct {
	rules       policy.Rules
	qos         byte
	correlation Correlation
	timeout     time.Duration
	sink        Sink
	logger      Logger
	now         func() time.Time
	newID       func() string

	queue []*Record
}

// NewTracker creates an empty tracker.
func NewTracker(rules policy.Rules, qos byte, correlation Correlation, sink Sink, logger Logger) *Tracker {
	if sink == nil {
		sink = discardSink{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Tracker{
		rules:       rules,
		qos:         qos,
		correlation: correlation,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SetPendingTimeout enables expiry of entries older than d. Zero disables it.
func (t *Tracker) SetPendingTimeout(d time.Duration) {
	t.timeout = d
}

// Submit checks a publish against the policy and, if allowed, hands it to
// pub and enqueues it.
//
// A message refused locally or by the transport is returned already Failed
// and is never enqueued. A refused message never reaches pub.
func (t *Tracker) Submit(pub Publisher, identity, topic string, payload []byte) Record {
	rec := &Record{
		ID:        t.newID(),
		Identity:  identity,
		Topic:     topic,
		Payload:   payload,
		CreatedAt: t.now(),
		Status:    StatusPending,
	}

	if topic == "" || len(payload) == 0 {
		return t.reject(rec, ErrInvalidInput, ErrInvalidInput.Error())
	}

	if v := t.rules.Evaluate(identity, topic); !v.Allowed {
		return t.reject(rec, ErrPolicyViolation, v.Reason)
	}

	err := pub.Publish(Message{
		ID:      rec.ID,
		Topic:   topic,
		Payload: payload,
		QoS:     t.qos,
	})
	if err != nil {
		return t.reject(rec, fmt.Errorf("%w: %w", ErrDispatch, err), err.Error())
	}

	t.queue = append(t.queue, rec)
	t.sink.Emit(PublishAccepted{Record: *rec})
	t.logger.Debug("publish accepted", "id", rec.ID, "topic", topic, "pending", len(t.queue))
	return *rec
}

// Acknowledge resolves one entry as Acknowledged.
//
// With CorrelateID and a non-empty id the matching entry is resolved;
// otherwise the head is. An acknowledgment that matches nothing is logged
// as ErrProtocolAssumption and dropped.
func (t *Tracker) Acknowledge(id string) (Record, bool) {
	idx := t.match(id)
	if idx < 0 {
		t.logger.Warn("acknowledgment dropped",
			"id", id,
			"pending", len(t.queue),
			"error", ErrProtocolAssumption,
		)
		return Record{}, false
	}
	return t.resolveAt(idx, StatusAcknowledged, nil, ""), true
}

// Fail resolves the entry with the given id as Failed. It is used when the
// transport reports a per-message delivery error. Unknown ids are ignored.
func (t *Tracker) Fail(id string, err error) (Record, bool) {
	idx := t.indexOf(id)
	if idx < 0 {
		return Record{}, false
	}
	return t.resolveAt(idx, StatusFailed, fmt.Errorf("%w: %w", ErrDispatch, err), err.Error()), true
}

// FlushAsFailed resolves every queued entry as Failed, oldest first, and
// empties the queue.
func (t *Tracker) FlushAsFailed(cause error, reason string) []Record {
	flushed := make([]Record, 0, len(t.queue))
	for len(t.queue) > 0 {
		flushed = append(flushed, t.resolveAt(0, StatusFailed, cause, reason))
	}
	return flushed
}

// Expire fails entries that have been pending longer than the configured
// timeout. Entries are queued in submission order, so expiry only ever
// removes from the head and FIFO order is preserved.
func (t *Tracker) Expire() []Record {
	if t.timeout <= 0 {
		return nil
	}

	cutoff := t.now().Add(-t.timeout)
	var expired []Record
	for len(t.queue) > 0 && !t.queue[0].CreatedAt.After(cutoff) {
		expired = append(expired, t.resolveAt(0, StatusFailed, ErrAckTimeout,
			fmt.Sprintf("no acknowledgment within %s", t.timeout)))
	}
	return expired
}

// Len returns the number of pending entries.
func (t *Tracker) Len() int {
	return len(t.queue)
}

// Snapshot returns copies of the pending entries, oldest first.
func (t *Tracker) Snapshot() []Record {
	out := make([]Record, len(t.queue))
	for i, r := range t.queue {
		out[i] = *r
	}
	return out
}

// match returns the queue index an acknowledgment resolves, or -1.
func (t *Tracker) match(id string) int {
	if len(t.queue) == 0 {
		return -1
	}
	if t.correlation == CorrelateID && id != "" {
		return t.indexOf(id)
	}
	return 0
}

func (t *Tracker) indexOf(id string) int {
	for i, r := range t.queue {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// resolveAt removes the entry at idx and resolves it in one step.
func (t *Tracker) resolveAt(idx int, status Status, cause error, reason string) Record {
	rec := t.queue[idx]
	copy(t.queue[idx:], t.queue[idx+1:])
	t.queue[len(t.queue)-1] = nil
	t.queue = t.queue[:len(t.queue)-1]

	rec.Status = status
	rec.Err = cause
	rec.Reason = reason
	rec.ResolvedAt = t.now()

	t.sink.Emit(PublishResolved{Record: *rec})
	if status == StatusFailed {
		t.logger.Info("publish failed", "id", rec.ID, "topic", rec.Topic, "reason", reason)
	} else {
		t.logger.Debug("publish acknowledged", "id", rec.ID, "topic", rec.Topic, "latency", rec.Latency())
	}
	return *rec
}

// reject resolves a record that never entered the queue.
func (t *Tracker) reject(rec *Record, cause error, reason string) Record {
	rec.Status = StatusFailed
	rec.Err = cause
	rec.Reason = reason
	rec.ResolvedAt = rec.CreatedAt

	t.sink.Emit(PublishResolved{Record: *rec})
	if errors.Is(cause, ErrPolicyViolation) {
		t.logger.Info("publish blocked by policy", "identity", rec.Identity, "topic", rec.Topic, "reason", reason)
	} else {
		t.logger.Warn("publish rejected", "topic", rec.Topic, "error", cause)
	}
	return *rec
}
