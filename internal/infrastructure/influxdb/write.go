package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/aungkhantmaw64/gps-tracker/internal/delivery"
	"github.com/aungkhantmaw64/gps-tracker/internal/network"
)

// Measurement names.
const (
	MeasurementDelivery    = "delivery"
	MeasurementAssociation = "association"
	MeasurementSession     = "session"
)

// Record writes one delivery outcome. It implements delivery.Recorder so
// the client can be handed to the delivery worker directly.
func (c *Client) Record(_ context.Context, o delivery.Outcome) {
	c.writePoint(deliveryPoint(c.deviceID, o))
}

// WriteTransition records an association state change.
func (c *Client) WriteTransition(t network.Transition) {
	c.writePoint(transitionPoint(c.deviceID, t))
}

// WriteSession records a broker session going up or down. cause is the
// connection loss error, nil for a clean change.
func (c *Client) WriteSession(connected bool, cause error) {
	c.writePoint(sessionPoint(c.deviceID, connected, cause, time.Now()))
}

// WritePoint writes a custom point timestamped now. The device tag is
// added unless tags already carries one.
//
// Example:
//
//	client.WritePoint("queue",
//	    map[string]string{},
//	    map[string]any{"depth": 3, "bytes_in_use": 210})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if _, ok := tags["device_id"]; !ok {
		merged := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			merged[k] = v
		}
		merged["device_id"] = c.deviceID
		tags = merged
	}
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
}

func deliveryPoint(deviceID string, o delivery.Outcome) *write.Point {
	fields := map[string]any{
		"seq":        int64(o.Seq), //nolint:gosec // sequence numbers stay far below 2^63
		"size":       int64(o.Size),
		"latency_ms": float64(o.Latency()) / float64(time.Millisecond),
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
	}
	return write.NewPoint(
		MeasurementDelivery,
		map[string]string{
			"device_id": deviceID,
			"result":    string(o.Result),
		},
		fields,
		pointTime(o.CompletedAt),
	)
}

func transitionPoint(deviceID string, t network.Transition) *write.Point {
	return write.NewPoint(
		MeasurementAssociation,
		map[string]string{
			"device_id": deviceID,
			"from":      t.From.String(),
			"to":        t.To.String(),
			"event":     t.Event.String(),
		},
		map[string]any{
			"retries": int64(t.Retries),
			"cycle":   int64(t.Cycle), //nolint:gosec // cycle counts stay far below 2^63
		},
		pointTime(t.At),
	)
}

func sessionPoint(deviceID string, connected bool, cause error, at time.Time) *write.Point {
	fields := map[string]any{"connected": connected}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	return write.NewPoint(
		MeasurementSession,
		map[string]string{"device_id": deviceID},
		fields,
		at,
	)
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var _ delivery.Recorder = (*Client)(nil)
