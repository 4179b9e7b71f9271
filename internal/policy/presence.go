package policy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Presence reasons.
const (
	ReasonUnexpectedDisconnect = "unexpected_disconnect"
	ReasonLogout               = "logout"
)

// willQoS and willRetained are fixed: the broker must deliver the will at
// least once and new subscribers must see the last known presence.
const (
	willQoS      byte = 1
	willRetained      = true
)

// LastWillSpec is the message the broker publishes on the client's behalf if
// the connection drops without a clean disconnect.
type LastWillSpec struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// PresenceMessage is the JSON body of every presence publish.
type PresenceMessage struct {
	Status    string `json:"status"`
	Identity  string `json:"identity"`
	ClientID  string `json:"client_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// LastWill derives the will for identity.
//
// The payload carries no timestamp: it is registered at connect time but
// delivered whenever the connection dies, so any time in it would be wrong.
// It returns an error if the derived topic is not publishable by identity,
// which can only happen with an invalid identity.
func (r Rules) LastWill(identity string) (LastWillSpec, error) {
	topic := r.PresenceTopic(identity)
	if v := r.Evaluate(identity, topic); !v.Allowed {
		return LastWillSpec{}, fmt.Errorf("last will topic %q: %s", topic, v.Reason)
	}

	payload, err := json.Marshal(PresenceMessage{
		Status:   StatusOffline,
		Identity: identity,
		Reason:   ReasonUnexpectedDisconnect,
	})
	if err != nil {
		return LastWillSpec{}, fmt.Errorf("marshalling last will: %w", err)
	}

	return LastWillSpec{
		Topic:    topic,
		Payload:  payload,
		QoS:      willQoS,
		Retained: willRetained,
	}, nil
}

// OnlinePayload builds the retained presence published right after connect.
// It overwrites any stale will left by a previous abrupt disconnect.
func OnlinePayload(identity, clientID string, at time.Time) []byte {
	return mustMarshal(PresenceMessage{
		Status:    StatusOnline,
		Identity:  identity,
		ClientID:  clientID,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}

// OfflinePayload builds the retained presence published on a clean logout.
func OfflinePayload(identity, clientID string, at time.Time) []byte {
	return mustMarshal(PresenceMessage{
		Status:    StatusOffline,
		Identity:  identity,
		ClientID:  clientID,
		Reason:    ReasonLogout,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}

// mustMarshal encodes a PresenceMessage. The struct holds only strings, so
// json.Marshal cannot fail.
func mustMarshal(m PresenceMessage) []byte {
	b, _ := json.Marshal(m) //nolint:errcheck // string-only struct
	return b
}
