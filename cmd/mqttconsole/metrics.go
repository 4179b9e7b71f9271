package main

import (
	"time"

	"github.com/nerrad567/mqtt-console/internal/session"
)

// pointWriter is the part of *influxdb.Client the metrics sink writes to.
type pointWriter interface {
	WriteDelivery(identity, status, topic string, latency time.Duration, at time.Time)
	WriteSessionEvent(kind, identity, detail string, at time.Time)
}

// metricsSink turns resolved deliveries and session transitions into
// InfluxDB points. Writes are non-blocking, so Emit is safe under the
// manager lock.
type metricsSink struct {
	w   pointWriter
	now func() time.Time
}

func newMetricsSink(w pointWriter) *metricsSink {
	return &metricsSink{w: w, now: time.Now}
}

// Emit implements session.Sink.
func (s *metricsSink) Emit(ev session.Event) {
	switch e := ev.(type) {
	case session.PublishResolved:
		rec := e.Record
		if !rec.Resolved() {
			return
		}
		at := rec.ResolvedAt
		if at.IsZero() {
			at = s.now()
		}
		s.w.WriteDelivery(rec.Identity, rec.Status.String(), rec.Topic, rec.Latency(), at)
	case session.SessionEstablished:
		s.w.WriteSessionEvent(string(e.Kind()), e.Identity, e.Endpoint, e.At)
	case session.SessionFailed:
		s.w.WriteSessionEvent(string(e.Kind()), e.Identity, e.KindName, s.now())
	case session.SessionLost:
		s.w.WriteSessionEvent(string(e.Kind()), e.Identity, e.Reason, s.now())
	case session.SessionEnded:
		s.w.WriteSessionEvent(string(e.Kind()), e.Identity, e.Reason, s.now())
	}
}
