// Package influxdb writes tracker telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written, all tagged with device_id:
//
//   - delivery: one point per dequeued message (result tag; seq, size,
//     latency_ms and error fields)
//   - association: one point per state machine transition (from, to and
//     event tags; retries and cycle fields)
//   - session: one point per broker connect or connection loss
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, deviceID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	machine.OnTransition(client.WriteTransition)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors are delivered to the callback
// set with SetOnError.
package influxdb
