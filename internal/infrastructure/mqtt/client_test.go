package mqtt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

func testOptions() Options {
	return Options{
		Host:     "127.0.0.1",
		Port:     8883,
		TLS:      true,
		ClientID: "console-test",
		Username: "sensor_1",
		Password: "secret",
		Will: Will{
			Topic:    "telemetry/sensor_1/status",
			Payload:  []byte(`{"status":"offline"}`),
			QoS:      1,
			Retained: true,
		},
		ConnectTimeout: 2 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBrokerURL(t *testing.T) {
	o := testOptions()
	if got := o.BrokerURL(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("BrokerURL() = %q, want ssl://127.0.0.1:8883", got)
	}

	o.TLS = false
	o.Port = 1883
	if got := o.BrokerURL(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("BrokerURL() = %q, want tcp://127.0.0.1:1883", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts, err := buildClientOptions(testOptions())
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "console-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "sensor_1" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.AutoReconnect || opts.ConnectRetry {
		t.Error("reconnect enabled, want disabled")
	}
	if !opts.WillEnabled || opts.WillTopic != "telemetry/sensor_1/status" {
		t.Errorf("will = %v %q", opts.WillEnabled, opts.WillTopic)
	}
	if opts.WillQos != 1 || !opts.WillRetained {
		t.Errorf("will QoS/retained = %d/%v, want 1/true", opts.WillQos, opts.WillRetained)
	}
	if string(opts.WillPayload) != `{"status":"offline"}` {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want TLS 1.2 minimum", opts.TLSConfig)
	}
	if opts.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", opts.ConnectTimeout)
	}
}

func TestBuildClientOptions_NoWillNoTLS(t *testing.T) {
	o := testOptions()
	o.Will = Will{}
	o.TLS = false
	o.Username = ""
	o.ConnectTimeout = 0

	opts, err := buildClientOptions(o)
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}
	if opts.WillEnabled {
		t.Error("WillEnabled = true without a will topic")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.RootCAs != nil {
		t.Error("TLS roots configured for a plain connection")
	}
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty", opts.Username)
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want default %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
}

func TestBuildTLSConfig_CAFile(t *testing.T) {
	o := testOptions()
	o.CAFile = writeTestCA(t)

	cfg, err := buildTLSConfig(o)
	if err != nil {
		t.Fatalf("buildTLSConfig() error = %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs not set")
	}
	if cfg.ServerName != "127.0.0.1" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
}

func TestBuildTLSConfig_BadCAFile(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{"missing", nil},
		{"not pem", ptr("hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOptions()
			o.CAFile = filepath.Join(t.TempDir(), "ca.pem")
			if tt.content != nil {
				if err := os.WriteFile(o.CAFile, []byte(*tt.content), 0600); err != nil {
					t.Fatal(err)
				}
			}

			_, err := buildTLSConfig(o)
			if !errors.Is(err, ErrConnectionFailed) {
				t.Errorf("buildTLSConfig() error = %v, want ErrConnectionFailed", err)
			}
		})
	}
}

func ptr(s string) *string { return &s }

// writeTestCA writes a freshly generated self-signed certificate.
func writeTestCA(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mqtt-console test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// Error Classification Tests
// =============================================================================

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad credentials", packets.ErrorRefusedBadUsernameOrPassword, ErrBadCredentials},
		{"not authorised", packets.ErrorRefusedNotAuthorised, ErrBadCredentials},
		{"network timeout", timeoutError{}, ErrTimeout},
		{"refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), ErrConnectionFailed},
		{"tls", errors.New("tls: failed to verify certificate"), ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyConnectError(nil, tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyConnectError() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classifyConnectError() lost the cause %v", tt.err)
			}
		})
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnectRefused(t *testing.T) {
	o := testOptions()
	o.TLS = false
	o.Port = 1 // nothing listens here

	_, err := Connect(context.Background(), o, Callbacks{})
	if err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
	if !errors.Is(err, ErrConnectionFailed) && !errors.Is(err, ErrTimeout) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed or ErrTimeout", err)
	}
}

func TestConnectCancelled(t *testing.T) {
	o := testOptions()
	o.TLS = false
	o.Host = "192.0.2.1" // TEST-NET-1, never answers

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, o, Callbacks{})
	if err == nil {
		t.Fatal("Connect() with cancelled context succeeded")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Publish / Subscribe Validation Tests
// =============================================================================

func TestPublishValidation(t *testing.T) {
	client := &Client{opts: Options{MaxPayload: 8}}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "a/b", []byte("123456789"), 1, ErrPayloadTooLarge},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish("msg-1", tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}

	if err := client.Subscribe("", 1); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a/#", 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("a/#", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Dispatcher Tests
// =============================================================================

func TestDispatcherOrder(t *testing.T) {
	d := newDispatcher()
	defer d.stop()

	const n = 100
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		d.enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == n-1 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("callback %d ran as %d", i, v)
		}
	}
}

func TestDispatcherEnqueueNeverBlocks(t *testing.T) {
	d := newDispatcher()
	defer d.stop()

	release := make(chan struct{})
	d.enqueue(func() { <-release })

	finished := make(chan struct{})
	go func() {
		for j := 0; j < 1000; j++ {
			d.enqueue(func() {})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked behind a running callback")
	}
	close(release)
}

func TestDispatcherStop(t *testing.T) {
	d := newDispatcher()

	ran := make(chan struct{}, 1)
	d.enqueue(func() {
		d.stop() // stopping from inside a callback must not deadlock
		ran <- struct{}{}
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}

	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher goroutine did not exit")
	}

	// Enqueue after stop is dropped without panicking.
	d.enqueue(func() { t.Error("callback ran after stop") })
	d.stop()
}

func TestHandleConnectionLostStopsDispatch(t *testing.T) {
	var lost []string
	var mu sync.Mutex
	done := make(chan struct{})

	c := &Client{
		dispatch: newDispatcher(),
		closed:   make(chan struct{}),
		cb: Callbacks{
			OnConnectionLost: func(err error) {
				mu.Lock()
				lost = append(lost, err.Error())
				mu.Unlock()
				close(done)
			},
		},
	}
	c.connected = true

	c.handleConnectionLost(errors.New("EOF"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnectionLost not called")
	}
	<-c.dispatch.done

	mu.Lock()
	defer mu.Unlock()
	if len(lost) != 1 || !strings.Contains(lost[0], "EOF") {
		t.Errorf("lost = %v, want [EOF]", lost)
	}
	if c.connected {
		t.Error("connected = true after loss")
	}
}
