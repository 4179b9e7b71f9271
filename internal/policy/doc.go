// Package policy mirrors the broker's topic access-control rules on the client.
//
// The console checks every outbound publish against these rules before the
// message reaches the transport, so a message the broker would refuse is
// rejected locally and never sent.
//
// # Rules
//
// Rules are evaluated in order and the first match wins:
//
//  1. The super-user may publish to any topic.
//  2. The monitor identity may publish only under the command namespace
//     (default "commands/").
//  3. Every other identity may publish only under its own telemetry
//     namespace, "telemetry/<identity>". The namespace is matched as a
//     literal prefix that ends at a level boundary, so "sensor_1" cannot
//     publish to "telemetry/sensor_10/...".
//
// The same Rules value derives the Last Will topic, the presence payloads and
// the auto-subscription pattern for an identity. Keeping derivation next to
// Evaluate means the will topic can never drift from what the identity is
// allowed to publish; the broker checks the will against its ACL too.
//
// # Usage
//
//	rules := policy.DefaultRules()
//	v := rules.Evaluate("sensor_7", "telemetry/sensor_7/temp")
//	if !v.Allowed {
//	    fmt.Println(v.Reason)
//	}
//
//	will := rules.LastWill("sensor_7")
//	// will.Topic == "telemetry/sensor_7/status", QoS 1, retained
package policy
