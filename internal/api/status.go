package api

import (
	"net/http"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/influxdb"
	"github.com/aungkhantmaw64/gps-tracker/internal/network"
	"github.com/aungkhantmaw64/gps-tracker/internal/payload"
	"github.com/aungkhantmaw64/gps-tracker/internal/process"
	"github.com/aungkhantmaw64/gps-tracker/internal/uplink"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status      string        `json:"status"`
	Association network.State `json:"association"`
	Connected   bool          `json:"connected"`
	Version     string        `json:"version"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	DeviceID      string          `json:"device_id"`
	Version       string          `json:"version"`
	Timestamp     string          `json:"timestamp"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Association   network.Status  `json:"association"`
	Uplink        uplink.Stats    `json:"uplink"`
	Producer      *payload.Stats  `json:"producer,omitempty"`
	Supplicant    *process.Stats  `json:"supplicant,omitempty"`
	Telemetry     *influxdb.Stats `json:"telemetry,omitempty"`
}

// handleHealth reports 200 only while the tracker can deliver: the link is
// associated and the broker session is connected.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	assoc := s.assoc.Status()
	up := s.uplink.Stats()

	resp := HealthResponse{
		Status:      "ok",
		Association: assoc.State,
		Connected:   up.Connected,
		Version:     s.version,
	}
	status := http.StatusOK
	if assoc.State != network.StateAssociated || !up.Connected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		DeviceID:      s.deviceID,
		Version:       s.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Association:   s.assoc.Status(),
		Uplink:        s.uplink.Stats(),
	}
	if s.producer != nil {
		st := s.producer.Stats()
		resp.Producer = &st
	}
	if s.wpa != nil {
		st := s.wpa.Stats()
		resp.Supplicant = &st
	}
	if s.telemetry != nil {
		st := s.telemetry.Stats()
		resp.Telemetry = &st
	}
	writeJSON(w, http.StatusOK, resp)
}
