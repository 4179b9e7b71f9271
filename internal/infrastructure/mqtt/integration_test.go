package mqtt

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Integration tests against a live broker.
// They run only when MQTTCONSOLE_TEST_BROKER names a plain-TCP broker that
// accepts anonymous clients, e.g.:
//
//	MQTTCONSOLE_TEST_BROKER=127.0.0.1:1883 go test ./internal/infrastructure/mqtt/...

func integrationOptions(t *testing.T, clientID string) Options {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping broker integration test in short mode")
	}
	addr := os.Getenv("MQTTCONSOLE_TEST_BROKER")
	if addr == "" {
		t.Skip("MQTTCONSOLE_TEST_BROKER not set")
	}

	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		t.Fatalf("MQTTCONSOLE_TEST_BROKER = %q, want host:port", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("MQTTCONSOLE_TEST_BROKER port: %v", err)
	}

	return Options{
		Host:           host,
		Port:           port,
		ClientID:       fmt.Sprintf("%s-%d", clientID, time.Now().UnixNano()),
		ConnectTimeout: 5 * time.Second,
	}
}

func TestIntegration_PublishCompletes(t *testing.T) {
	o := integrationOptions(t, "console-int-pub")

	completed := make(chan string, 4)
	client, err := Connect(context.Background(), o, Callbacks{
		OnPublishComplete: func(id string, err error) {
			if err != nil {
				t.Errorf("publish %s failed: %v", id, err)
			}
			completed <- id
		},
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	for _, id := range []string{"a", "b"} {
		if err := client.Publish(id, "mqttconsole/int/test", []byte(id), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", id, err)
		}
	}

	seen := map[string]bool{}
	for j := 0; j < 2; j++ {
		select {
		case id := <-completed:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("publishes completed = %v, want a and b", seen)
		}
	}
}

func TestIntegration_SubscribeRoundtrip(t *testing.T) {
	o := integrationOptions(t, "console-int-sub")

	received := make(chan string, 1)
	client, err := Connect(context.Background(), o, Callbacks{
		OnMessage: func(topic string, payload []byte) {
			received <- topic + "=" + string(payload)
		},
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := "mqttconsole/int/" + o.ClientID
	if err := client.Subscribe(topic+"/#", 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Publish("", topic+"/temp", []byte("21.5"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic+"/temp=21.5" {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_CloseSuppressesConnectionLost(t *testing.T) {
	o := integrationOptions(t, "console-int-close")

	lost := make(chan error, 1)
	client, err := Connect(context.Background(), o, Callbacks{
		OnConnectionLost: func(err error) { lost <- err },
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}

	select {
	case err := <-lost:
		t.Errorf("OnConnectionLost(%v) after Close", err)
	case <-time.After(500 * time.Millisecond):
	}
}
