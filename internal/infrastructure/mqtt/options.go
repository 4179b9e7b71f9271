package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the CONNACK.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultMaxPayload is used when Options.MaxPayload is zero (1MB).
	defaultMaxPayload = 1 << 20

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Will is the Last Will registered with the broker at connect time.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Options describes one connection.
type Options struct {
	Host     string
	Port     int
	TLS      bool
	ClientID string
	Username string
	Password string

	// CAFile adds a PEM bundle to the trusted roots.
	CAFile string

	// InsecureSkipVerify disables certificate verification. Local brokers
	// with self-signed certificates only.
	InsecureSkipVerify bool

	// Will is registered when Will.Topic is set.
	Will Will

	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	MaxPayload     int
}

// BrokerURL returns the paho broker URL, e.g. "ssl://localhost:8883".
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (o Options) maxPayload() int {
	if o.MaxPayload > 0 {
		return o.MaxPayload
	}
	return defaultMaxPayload
}

// buildClientOptions creates paho MQTT options for a console session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Last Will (if provided)
//   - No automatic reconnect: a lost connection ends the session
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(o Options) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// A lost connection ends the session; the operator logs in again.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(o.connectTimeout())

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if o.Will.Topic != "" {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	if o.TLS {
		tlsConfig, err := buildTLSConfig(o)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig returns the TLS settings for o, loading CAFile if set.
func buildTLSConfig(o Options) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tlsMinVersion,
		ServerName:         o.Host,
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // opt-in for local brokers
	}

	if o.CAFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(o.CAFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA file: %w", ErrConnectionFailed, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in CA file %s", ErrConnectionFailed, o.CAFile)
	}
	tlsConfig.RootCAs = pool

	return tlsConfig, nil
}
