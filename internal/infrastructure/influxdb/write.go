package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementDeliveries = "deliveries"
	measurementSessions   = "sessions"
)

// WriteDelivery records one resolved publish.
//
// identity and status become tags; latency and topic are fields so topic
// cardinality does not grow the series index.
//
// Example:
//
//	client.WriteDelivery("sensor_1", "acknowledged", "telemetry/sensor_1/temp", 12*time.Millisecond, rec.ResolvedAt)
func (c *Client) WriteDelivery(identity, status, topic string, latency time.Duration, at time.Time) {
	c.writePoint(measurementDeliveries,
		map[string]string{
			"identity": identity,
			"status":   status,
		},
		map[string]any{
			"latency_ms": latency.Milliseconds(),
			"topic":      topic,
			"count":      1,
		},
		at,
	)
}

// WriteSessionEvent records a session lifecycle transition such as
// "session.established" or "session.lost".
func (c *Client) WriteSessionEvent(kind, identity, detail string, at time.Time) {
	fields := map[string]any{"count": 1}
	if detail != "" {
		fields["detail"] = detail
	}

	c.writePoint(measurementSessions,
		map[string]string{
			"identity": identity,
			"kind":     kind,
		},
		fields,
		at,
	)
}

// writePoint queues a point; a zero timestamp means now. Dropped silently
// once the client is closed.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
