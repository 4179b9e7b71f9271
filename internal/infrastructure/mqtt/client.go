package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Client wraps paho.mqtt.golang for a single console session.
//
// It provides connection setup with a Last Will, fire-and-forget publishing
// with asynchronous per-message completion, subscriptions and a clean
// disconnect. There is no automatic reconnect: once the connection is lost
// the Client is finished and a new one must be created.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks are invoked one at a time, in the order paho reported the
//     underlying events, on a goroutine owned by the Client.
type Client struct {
	client pahomqtt.Client
	opts   Options
	cb     Callbacks

	dispatch  *dispatcher
	closed    chan struct{}
	closeOnce sync.Once

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Callbacks receive connection events. Any of them may be nil.
type Callbacks struct {
	// OnConnectionLost is called once if the connection drops. It is not
	// called after Close.
	OnConnectionLost func(err error)

	// OnPublishComplete is called when a publish made with a non-empty id
	// completes: err is nil once the broker confirmed it (PUBACK/PUBCOMP,
	// or the write itself at QoS 0) and non-nil if it could not be delivered.
	OnPublishComplete func(id string, err error)

	// OnMessage is called for every message arriving on a subscription.
	OnMessage func(topic string, payload []byte)
}

// Connect establishes a connection to the broker.
//
// It performs the following setup:
//  1. Builds connection options (broker URL, credentials, TLS, Last Will)
//  2. Attempts the connection, bounded by ctx and Options.ConnectTimeout
//  3. Classifies a failure as ErrBadCredentials, ErrTimeout or ErrConnectionFailed
//
// Parameters:
//   - ctx: Cancels the wait for the broker
//   - o: Connection options for this session
//   - cb: Event callbacks
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the connection was refused or did not complete in time
func Connect(ctx context.Context, o Options, cb Callbacks) (*Client, error) {
	opts, err := buildClientOptions(o)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:     o,
		cb:       cb,
		dispatch: newDispatcher(),
		closed:   make(chan struct{}),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()

	timeout := o.connectTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.abandon(token)
		return nil, fmt.Errorf("%w: no answer from %s after %v", ErrTimeout, o.BrokerURL(), timeout)
	case <-ctx.Done():
		c.abandon(token)
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}

	if err := token.Error(); err != nil {
		c.abandon(token)
		return nil, classifyConnectError(token, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// classifyConnectError maps a paho connect failure onto the package sentinels.
func classifyConnectError(token pahomqtt.Token, err error) error {
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		switch ct.ReturnCode() {
		case packets.ErrRefusedBadUsernameOrPassword, packets.ErrRefusedNotAuthorised:
			return fmt.Errorf("%w: %w", ErrBadCredentials, err)
		}
	}

	switch {
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %w", ErrBadCredentials, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

// abandon releases a client whose connect failed or was given up on. A
// connect that still completes later is closed straight away.
func (c *Client) abandon(token pahomqtt.Token) {
	c.closeOnce.Do(func() {
		c.dispatch.stop()
		close(c.closed)
	})

	go func() {
		<-token.Done()
		if token.Error() == nil {
			c.client.Disconnect(0)
		}
	}()
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if err == nil {
		err = ErrNotConnected
	}

	c.dispatch.enqueue(func() {
		if c.cb.OnConnectionLost != nil {
			c.cb.OnConnectionLost(err)
		}
		c.dispatch.stop()
	})
}

// Close disconnects from the broker.
//
// Publishes still in flight are abandoned and no callbacks run afterwards.
// It is safe to call more than once.
//
// Returns:
//   - error: Always nil; a connection that is already gone is not an error
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		c.dispatch.stop()
		close(c.closed)

		c.connMu.Lock()
		wasConnected := c.connected
		c.connected = false
		c.connMu.Unlock()

		if wasConnected {
			c.client.Disconnect(defaultDisconnectQuiesce)
		}
	})

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// handleMessage is the paho handler for every subscription. The payload is
// copied because paho may reuse the message after the handler returns.
func (c *Client) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	if c.cb.OnMessage == nil {
		return
	}

	topic := msg.Topic()
	payload := append([]byte(nil), msg.Payload()...)

	c.dispatch.enqueue(func() {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT message callback panic recovered",
						"topic", topic,
						"panic", r,
					)
				}
			}
		}()
		c.cb.OnMessage(topic, payload)
	})
}
