package session

import (
	"encoding/json"
	"time"
)

// EventKind names an event for sinks that route on it.
type EventKind string

// Event kinds. The names are the contract with presentation sinks.
const (
	KindSessionEstablished EventKind = "session.established"
	KindSessionFailed      EventKind = "session.failed"
	KindSessionLost        EventKind = "session.lost"
	KindSessionEnded       EventKind = "session.ended"
	KindPublishAccepted    EventKind = "publish.accepted"
	KindPublishResolved    EventKind = "publish.resolved"
	KindMessageReceived    EventKind = "message.received"
	KindSubscribed         EventKind = "subscription.added"
)

// Event is anything the core reports to a presentation sink.
type Event interface {
	Kind() EventKind
}

// SessionEstablished is emitted once the connection is up, presence has
// been published and the auto-subscription issued.
type SessionEstablished struct {
	Identity         string    `json:"identity"`
	Endpoint         string    `json:"endpoint"`
	ClientID         string    `json:"client_id"`
	AutoSubscription string    `json:"auto_subscription"`
	At               time.Time `json:"at"`
}

// SessionFailed is emitted when Connect fails. No session exists afterwards.
type SessionFailed struct {
	Identity string    `json:"identity"`
	Error    ErrorKind `json:"-"`
	KindName string    `json:"kind"`
	Detail   string    `json:"detail"`
	Guidance string    `json:"guidance"`
}

// SessionLost is emitted when the transport reports the connection dropped.
type SessionLost struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// SessionEnded is emitted on an operator logout or when a new login
// replaces the current session.
type SessionEnded struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// PublishAccepted is emitted when a publish passed the policy check and was
// handed to the transport.
type PublishAccepted struct {
	Record Record `json:"record"`
}

// PublishResolved is emitted when a record reaches Acknowledged or Failed,
// including publishes rejected before they were ever accepted.
type PublishResolved struct {
	Record Record `json:"record"`
}

// MessageReceived is emitted for every message arriving on a subscription.
type MessageReceived struct {
	Topic   string    `json:"topic"`
	Payload []byte    `json:"payload"`
	At      time.Time `json:"at"`
}

// MarshalJSON renders the payload as text, the way the console prints it.
func (m MessageReceived) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Topic   string    `json:"topic"`
		Payload string    `json:"payload"`
		At      time.Time `json:"at"`
	}{m.Topic, string(m.Payload), m.At})
}

// Subscribed is emitted after a subscription was issued, the
// auto-subscription included.
type Subscribed struct {
	Pattern string `json:"pattern"`
	Auto    bool   `json:"auto"`
}

// Kind implements Event.
func (SessionEstablished) Kind() EventKind { return KindSessionEstablished }

// Kind implements Event.
func (SessionFailed) Kind() EventKind { return KindSessionFailed }

// Kind implements Event.
func (SessionLost) Kind() EventKind { return KindSessionLost }

// Kind implements Event.
func (SessionEnded) Kind() EventKind { return KindSessionEnded }

// Kind implements Event.
func (PublishAccepted) Kind() EventKind { return KindPublishAccepted }

// Kind implements Event.
func (PublishResolved) Kind() EventKind { return KindPublishResolved }

// Kind implements Event.
func (MessageReceived) Kind() EventKind { return KindMessageReceived }

// Kind implements Event.
func (Subscribed) Kind() EventKind { return KindSubscribed }

// Sink receives core events.
//
// Emit is called with the manager's lock held, so every sink sees events in
// one total order. Implementations must not block for long and must not call
// back into the Manager.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans events out to several sinks in order. Nil entries are skipped.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
