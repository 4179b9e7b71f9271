package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/mqtt-console/internal/policy"
)

// Endpoint is the broker address the operator logs in to.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	TLS  bool   `json:"tls"`
}

// String returns the broker URL, e.g. "ssl://localhost:8883".
func (e Endpoint) String() string {
	scheme := "tcp"
	if e.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, e.Host, e.Port)
}

// Credentials authenticate the session. Username is the session identity.
type Credentials struct {
	Username string
	Password string
}

// Message is one outbound publish handed to the transport.
//
// ID is the tracker record ID. System publishes (presence) carry an empty
// ID and the transport must not report acknowledgments for them.
type Message struct {
	ID       string
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Handlers are the callbacks a transport invokes for one connection.
//
// A transport may call them from any goroutine; the Manager serialises them
// with operator actions. Each set of handlers is bound to the session that
// created it and goes quiet once that session is gone.
type Handlers struct {
	// OnConnectionLost reports that the connection dropped.
	OnConnectionLost func(err error)

	// OnDeliveryAcknowledged reports a delivery confirmation. id is the
	// Message.ID the confirmation belongs to, or empty if the transport
	// cannot correlate, in which case the oldest pending publish is resolved.
	OnDeliveryAcknowledged func(id string)

	// OnDeliveryFailed reports that a specific publish could not be delivered
	// while the connection stayed up.
	OnDeliveryFailed func(id string, err error)

	// OnMessageArrived reports a message received on a subscription.
	OnMessageArrived func(topic string, payload []byte)
}

// DialOptions is everything a transport needs to open one connection.
type DialOptions struct {
	Endpoint Endpoint
	ClientID string
	Username string
	Password string
	Will     policy.LastWillSpec
	Handlers Handlers
}

// Dialer opens broker connections.
//
// Dial blocks until the broker accepted or refused the connection. Errors
// should wrap ErrInvalidCredentials, ErrTransportUnreachable or
// ErrConnectTimeout so Connect can classify them.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is one open broker connection, owned by exactly one session.
type Conn interface {
	// Publish hands a message to the transport without waiting for the
	// broker. An error means the message was not sent.
	Publish(msg Message) error

	// Subscribe issues a subscription.
	Subscribe(pattern string, qos byte) error

	// Disconnect closes the connection. It is best effort and must not
	// invoke OnConnectionLost.
	Disconnect()
}
