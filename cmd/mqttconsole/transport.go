package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/mqtt-console/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-console/internal/session"
)

// brokerClient is the part of *mqtt.Client a session connection uses.
type brokerClient interface {
	Publish(id, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte) error
	Close() error
}

// connectFunc opens a broker client. mqtt.Connect in production.
type connectFunc func(ctx context.Context, o mqtt.Options, cb mqtt.Callbacks) (brokerClient, error)

// mqttDialer adapts the paho-backed client to session.Dialer.
//
// base carries the settings that do not change between logins (TLS trust,
// timeouts, payload limit); Dial fills in the endpoint, identity and will.
type mqttDialer struct {
	base    mqtt.Options
	logger  mqtt.Logger
	connect connectFunc
}

func newMQTTDialer(base mqtt.Options, logger mqtt.Logger) *mqttDialer {
	return &mqttDialer{
		base:   base,
		logger: logger,
		connect: func(ctx context.Context, o mqtt.Options, cb mqtt.Callbacks) (brokerClient, error) {
			c, err := mqtt.Connect(ctx, o, cb)
			if err != nil {
				return nil, err
			}
			if logger != nil {
				c.SetLogger(logger)
			}
			return c, nil
		},
	}
}

// Dial implements session.Dialer.
func (d *mqttDialer) Dial(ctx context.Context, opts session.DialOptions) (session.Conn, error) {
	o := d.base
	o.Host = opts.Endpoint.Host
	o.Port = opts.Endpoint.Port
	o.TLS = opts.Endpoint.TLS
	o.ClientID = opts.ClientID
	o.Username = opts.Username
	o.Password = opts.Password
	o.Will = mqtt.Will{
		Topic:    opts.Will.Topic,
		Payload:  opts.Will.Payload,
		QoS:      opts.Will.QoS,
		Retained: opts.Will.Retained,
	}

	h := opts.Handlers
	client, err := d.connect(ctx, o, mqtt.Callbacks{
		OnConnectionLost: h.OnConnectionLost,
		OnPublishComplete: func(id string, err error) {
			if err != nil {
				if h.OnDeliveryFailed != nil {
					h.OnDeliveryFailed(id, err)
				}
				return
			}
			if h.OnDeliveryAcknowledged != nil {
				h.OnDeliveryAcknowledged(id)
			}
		},
		OnMessage: h.OnMessageArrived,
	})
	if err != nil {
		return nil, classifyDialError(err)
	}

	return &mqttConn{client: client}, nil
}

// classifyDialError maps transport sentinels onto the session taxonomy.
func classifyDialError(err error) error {
	switch {
	case errors.Is(err, mqtt.ErrBadCredentials):
		return fmt.Errorf("%w: %w", session.ErrInvalidCredentials, err)
	case errors.Is(err, mqtt.ErrTimeout):
		return fmt.Errorf("%w: %w", session.ErrConnectTimeout, err)
	case errors.Is(err, mqtt.ErrConnectionFailed):
		return fmt.Errorf("%w: %w", session.ErrTransportUnreachable, err)
	default:
		return err
	}
}

// mqttConn adapts one connected client to session.Conn.
type mqttConn struct {
	client brokerClient
}

// Publish implements session.Conn.
func (c *mqttConn) Publish(msg session.Message) error {
	return c.client.Publish(msg.ID, msg.Topic, msg.Payload, msg.QoS, msg.Retained)
}

// Subscribe implements session.Conn.
func (c *mqttConn) Subscribe(pattern string, qos byte) error {
	return c.client.Subscribe(pattern, qos)
}

// Disconnect implements session.Conn.
func (c *mqttConn) Disconnect() {
	_ = c.client.Close() //nolint:errcheck // Close always returns nil
}
