// Package influxdb writes console delivery metrics to InfluxDB v2.
//
// Every resolved publish becomes a point in the "deliveries" measurement
// (tags identity and status, fields latency_ms, topic and count) and every
// session transition a point in "sessions" (tags identity and kind). That is
// enough to chart acknowledgment latency and failure rates per identity.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	} else if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDelivery(rec.Identity, rec.Status.String(), rec.Topic, rec.Latency(), rec.ResolvedAt)
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval); failures
// arrive on the SetOnError callback. Connect and HealthCheck return errors
// directly.
package influxdb
