// Package mqtt provides the broker connection for the MQTT console.
//
// This package manages:
//   - Connection to the broker with credentials, TLS and a Last Will
//   - Fire-and-forget publishing with per-message completion callbacks
//   - Topic subscriptions with wildcard support
//   - Connection-lost notification (no automatic reconnect)
//
// # Callbacks
//
// Paho calls its handlers on internal goroutines and waits for them in
// Disconnect. The Client never runs caller code on those goroutines: every
// callback is queued and run in order on a goroutine the Client owns, so a
// caller may take its own locks in callbacks and still call Close while
// holding them.
//
// # Security Considerations
//
//   - TLS is the default (ssl://); CAFile adds a private CA
//   - InsecureSkipVerify exists for local brokers with self-signed certificates only
//   - Credentials are checked by the broker; a refusal surfaces as ErrBadCredentials
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.Options{
//	    Host: "localhost", Port: 8883, TLS: true,
//	    ClientID: "console-1a2b3c4d", Username: "sensor_1", Password: pw,
//	    Will: mqtt.Will{Topic: "telemetry/sensor_1/status", Payload: will, QoS: 1, Retained: true},
//	}, mqtt.Callbacks{
//	    OnPublishComplete: func(id string, err error) { ... },
//	    OnConnectionLost:  func(err error) { ... },
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Publish(rec.ID, "telemetry/sensor_1/temp", []byte("21.5"), 1, false)
package mqtt
