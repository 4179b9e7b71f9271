package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/mqtt-console/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-console/internal/policy"
	"github.com/nerrad567/mqtt-console/internal/session"
)

// ============================================================================
// Flags
// ============================================================================

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr error
	}{
		{"defaults", nil, options{}, nil},
		{"config long", []string{"--config", "/etc/console.yaml"}, options{configPath: "/etc/console.yaml"}, nil},
		{"config short", []string{"-c", "c.yaml"}, options{configPath: "c.yaml"}, nil},
		{"no colour", []string{"--no-color"}, options{noColor: true}, nil},
		{"version", []string{"--version"}, options{version: true}, nil},
		{"help", []string{"--help"}, options{help: true}, pflag.ErrHelp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var usage bytes.Buffer
			got, err := parseFlags(tt.args, &usage)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("parseFlags() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
			if tt.wantErr != nil && !strings.Contains(usage.String(), "--config") {
				t.Errorf("usage %q missing flag list", usage.String())
			}
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	for _, args := range [][]string{{"--bogus"}, {"extra"}} {
		if _, err := parseFlags(args, &bytes.Buffer{}); err == nil {
			t.Errorf("parseFlags(%v) expected error", args)
		}
	}
}

// ============================================================================
// Transport adapter
// ============================================================================

type fakeBroker struct {
	mu         sync.Mutex
	published  []string
	subscribed []string
	closed     bool
	publishErr error
}

func (f *fakeBroker) Publish(id, topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	entry := id + "|" + topic + "|" + string(payload)
	if retained {
		entry += "|retained"
	}
	f.published = append(f.published, entry)
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestMQTTDialer_Dial(t *testing.T) {
	broker := &fakeBroker{}
	var gotOpts mqtt.Options
	var gotCB mqtt.Callbacks

	d := &mqttDialer{
		base: mqtt.Options{CAFile: "/etc/ca.pem", ConnectTimeout: 3 * time.Second, MaxPayload: 512},
		connect: func(_ context.Context, o mqtt.Options, cb mqtt.Callbacks) (brokerClient, error) {
			gotOpts, gotCB = o, cb
			return broker, nil
		},
	}

	var acked, failed, lost, received []string
	conn, err := d.Dial(context.Background(), session.DialOptions{
		Endpoint: session.Endpoint{Host: "broker.local", Port: 8883, TLS: true},
		ClientID: "console-1a2b3c4d",
		Username: "sensor_1",
		Password: "secret",
		Will: policy.LastWillSpec{
			Topic: "telemetry/sensor_1/status", Payload: []byte(`{"status":"offline"}`), QoS: 1, Retained: true,
		},
		Handlers: session.Handlers{
			OnConnectionLost:       func(err error) { lost = append(lost, err.Error()) },
			OnDeliveryAcknowledged: func(id string) { acked = append(acked, id) },
			OnDeliveryFailed:       func(id string, err error) { failed = append(failed, id+":"+err.Error()) },
			OnMessageArrived:       func(topic string, payload []byte) { received = append(received, topic+"="+string(payload)) },
		},
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	// Options carry both the per-login and the fixed settings.
	if gotOpts.Host != "broker.local" || gotOpts.Port != 8883 || !gotOpts.TLS {
		t.Errorf("endpoint options = %+v", gotOpts)
	}
	if gotOpts.ClientID != "console-1a2b3c4d" || gotOpts.Username != "sensor_1" || gotOpts.Password != "secret" {
		t.Errorf("identity options = %+v", gotOpts)
	}
	if gotOpts.CAFile != "/etc/ca.pem" || gotOpts.ConnectTimeout != 3*time.Second || gotOpts.MaxPayload != 512 {
		t.Errorf("base options not kept: %+v", gotOpts)
	}
	if gotOpts.Will.Topic != "telemetry/sensor_1/status" || gotOpts.Will.QoS != 1 || !gotOpts.Will.Retained {
		t.Errorf("will = %+v", gotOpts.Will)
	}

	// Callbacks route to the session handlers.
	gotCB.OnPublishComplete("p1", nil)
	gotCB.OnPublishComplete("p2", errors.New("refused"))
	gotCB.OnConnectionLost(errors.New("EOF"))
	gotCB.OnMessage("commands/sensor_1/reset", []byte("1"))

	if strings.Join(acked, ",") != "p1" {
		t.Errorf("acked = %v", acked)
	}
	if strings.Join(failed, ",") != "p2:refused" {
		t.Errorf("failed = %v", failed)
	}
	if strings.Join(lost, ",") != "EOF" {
		t.Errorf("lost = %v", lost)
	}
	if strings.Join(received, ",") != "commands/sensor_1/reset=1" {
		t.Errorf("received = %v", received)
	}

	// The connection forwards to the client.
	if err := conn.Publish(session.Message{ID: "p3", Topic: "telemetry/sensor_1/temp", Payload: []byte("21.5"), QoS: 1}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := conn.Publish(session.Message{Topic: "telemetry/sensor_1/status", Payload: []byte("on"), Retained: true}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := conn.Subscribe("commands/sensor_1/#", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	conn.Disconnect()

	want := []string{"p3|telemetry/sensor_1/temp|21.5", "|telemetry/sensor_1/status|on|retained"}
	if strings.Join(broker.published, ";") != strings.Join(want, ";") {
		t.Errorf("published = %v, want %v", broker.published, want)
	}
	if strings.Join(broker.subscribed, ",") != "commands/sensor_1/#" {
		t.Errorf("subscribed = %v", broker.subscribed)
	}
	if !broker.closed {
		t.Error("Disconnect did not close the client")
	}
}

func TestMQTTDialer_NilHandlers(t *testing.T) {
	var gotCB mqtt.Callbacks
	d := &mqttDialer{connect: func(_ context.Context, _ mqtt.Options, cb mqtt.Callbacks) (brokerClient, error) {
		gotCB = cb
		return &fakeBroker{}, nil
	}}
	if _, err := d.Dial(context.Background(), session.DialOptions{}); err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	// Must not panic.
	gotCB.OnPublishComplete("p1", nil)
	gotCB.OnPublishComplete("p1", errors.New("x"))
}

func TestClassifyDialError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad credentials", mqtt.ErrBadCredentials, session.ErrInvalidCredentials},
		{"timeout", mqtt.ErrTimeout, session.ErrConnectTimeout},
		{"unreachable", mqtt.ErrConnectionFailed, session.ErrTransportUnreachable},
		{"other passes through", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mqttDialer{connect: func(context.Context, mqtt.Options, mqtt.Callbacks) (brokerClient, error) {
				return nil, tt.err
			}}
			_, err := d.Dial(context.Background(), session.DialOptions{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Dial() error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Dial() error = %v lost the transport cause", err)
			}
		})
	}
}

// ============================================================================
// Metrics sink
// ============================================================================

type recordedPoint struct {
	measurement string
	fields      []string
	at          time.Time
}

type fakePointWriter struct {
	points []recordedPoint
}

func (f *fakePointWriter) WriteDelivery(identity, status, topic string, latency time.Duration, at time.Time) {
	f.points = append(f.points, recordedPoint{"delivery", []string{identity, status, topic, latency.String()}, at})
}

func (f *fakePointWriter) WriteSessionEvent(kind, identity, detail string, at time.Time) {
	f.points = append(f.points, recordedPoint{"session", []string{kind, identity, detail}, at})
}

func TestMetricsSink_Emit(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	created := now.Add(-20 * time.Millisecond)

	tests := []struct {
		name string
		ev   session.Event
		want *recordedPoint
	}{
		{
			name: "acknowledged delivery",
			ev: session.PublishResolved{Record: session.Record{
				Identity: "sensor_1", Topic: "telemetry/sensor_1/temp", Status: session.StatusAcknowledged,
				CreatedAt: created, ResolvedAt: now,
			}},
			want: &recordedPoint{"delivery", []string{"sensor_1", "acknowledged", "telemetry/sensor_1/temp", "20ms"}, now},
		},
		{
			name: "failed delivery",
			ev: session.PublishResolved{Record: session.Record{
				Identity: "sensor_1", Topic: "commands/x", Status: session.StatusFailed,
				CreatedAt: now, ResolvedAt: now,
			}},
			want: &recordedPoint{"delivery", []string{"sensor_1", "failed", "commands/x", "0s"}, now},
		},
		{
			name: "established",
			ev:   session.SessionEstablished{Identity: "sensor_1", Endpoint: "ssl://localhost:8883", At: now},
			want: &recordedPoint{"session", []string{"session.established", "sensor_1", "ssl://localhost:8883"}, now},
		},
		{
			name: "failed login",
			ev:   session.SessionFailed{Identity: "sensor_1", KindName: "timeout"},
			want: &recordedPoint{"session", []string{"session.failed", "sensor_1", "timeout"}, now},
		},
		{
			name: "lost",
			ev:   session.SessionLost{Identity: "sensor_1", Reason: "EOF"},
			want: &recordedPoint{"session", []string{"session.lost", "sensor_1", "EOF"}, now},
		},
		{
			name: "ended",
			ev:   session.SessionEnded{Identity: "sensor_1", Reason: "logout"},
			want: &recordedPoint{"session", []string{"session.ended", "sensor_1", "logout"}, now},
		},
		{
			name: "accepted is not a point",
			ev:   session.PublishAccepted{Record: session.Record{ID: "p1"}},
		},
		{
			name: "received is not a point",
			ev:   session.MessageReceived{Topic: "a/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakePointWriter{}
			sink := newMetricsSink(w)
			sink.now = func() time.Time { return now }

			sink.Emit(tt.ev)

			if tt.want == nil {
				if len(w.points) != 0 {
					t.Errorf("points = %+v, want none", w.points)
				}
				return
			}
			if len(w.points) != 1 {
				t.Fatalf("points = %d, want 1", len(w.points))
			}
			got := w.points[0]
			if got.measurement != tt.want.measurement ||
				strings.Join(got.fields, "|") != strings.Join(tt.want.fields, "|") ||
				!got.at.Equal(tt.want.at) {
				t.Errorf("point = %+v, want %+v", got, *tt.want)
			}
		})
	}
}

// ============================================================================
// run
// ============================================================================

func writeTestConfig(t *testing.T, dir string, journal bool) string {
	t.Helper()

	content := `
broker:
  host: 127.0.0.1
  port: 1883
  tls: false
journal:
  enabled: ` + map[bool]string{true: "true", false: "false"}[journal] + `
  path: ` + filepath.Join(dir, "journal.db") + `
logging:
  level: debug
  output: file
  file:
    path: ` + filepath.Join(dir, "console.log") + `
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_QuitWithJournal(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, true)

	var out bytes.Buffer
	err := run(context.Background(), options{configPath: path, noColor: true}, strings.NewReader("status\nhistory\nquit\n"), &out)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	for _, want := range []string{"not logged in", "no deliveries journalled"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q missing %q", out.String(), want)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "journal.db")); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
	logData, err := os.ReadFile(filepath.Join(dir, "console.log"))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	for _, want := range []string{"starting mqttconsole", "journal schema ready"} {
		if !strings.Contains(string(logData), want) {
			t.Errorf("log %q missing %q", logData, want)
		}
	}
}

func TestRun_JournalDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, false)

	var out bytes.Buffer
	if err := run(context.Background(), options{configPath: path, noColor: true}, strings.NewReader("history\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "journal disabled") {
		t.Errorf("output %q missing 'journal disabled'", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "journal.db")); !os.IsNotExist(err) {
		t.Errorf("journal database created while disabled (stat err = %v)", err)
	}
}

func TestRun_PublishWithoutSession(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, false)

	var out bytes.Buffer
	if err := run(context.Background(), options{configPath: path, noColor: true}, strings.NewReader("pub telemetry/x 1\n"), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(out.String(), "FAIL - telemetry/x: not connected") {
		t.Errorf("output %q missing failed publish", out.String())
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("broker:\n  port: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"explicit missing file", filepath.Join(dir, "missing.yaml")},
		{"invalid config", invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), options{configPath: tt.path}, strings.NewReader(""), &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), "loading config") {
				t.Errorf("run() error = %v, want loading config error", err)
			}
		})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, false)

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pw.Close()
	defer pr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, options{configPath: path, noColor: true}, pr, &bytes.Buffer{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
