// Package session owns the single broker session of the console and the
// delivery state of everything published on it.
//
// A Manager holds at most one session at a time. Connect derives the Last
// Will from the identity, dials the broker through a Dialer, announces the
// identity as online on the Last Will topic and issues the one
// auto-subscription its class is entitled to. A new Connect replaces the
// old session wholesale; nothing is carried over.
//
// Publishes go through a Tracker. Each publish is checked against the
// policy rules first: a refused publish is reported as Failed and never
// reaches the transport. Accepted publishes wait in a FIFO queue until the
// transport confirms them, reports them failed, the session ends, or (when
// configured) the pending timeout passes.
//
// All state changes are reported to a Sink as typed events. Sinks drive the
// console, the journal, the metrics writer and the observer API.
//
// Usage:
//
//	mgr := session.NewManager(session.Config{Rules: policy.DefaultRules(), QoS: 1}, dialer, sink)
//	defer mgr.Close()
//
//	if _, err := mgr.Connect(ctx, session.Credentials{Username: "sensor_1", Password: pw}, endpoint); err != nil {
//	    var ce *session.ConnectError
//	    if errors.As(err, &ce) {
//	        fmt.Println(ce.Guidance())
//	    }
//	}
//
//	rec := mgr.Publish("telemetry/sensor_1/temp", []byte("21.5"))
package session
