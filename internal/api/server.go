package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/database"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/influxdb"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/logging"
	"github.com/aungkhantmaw64/gps-tracker/internal/journal"
	"github.com/aungkhantmaw64/gps-tracker/internal/network"
	"github.com/aungkhantmaw64/gps-tracker/internal/payload"
	"github.com/aungkhantmaw64/gps-tracker/internal/process"
	"github.com/aungkhantmaw64/gps-tracker/internal/uplink"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// AssociationSource reports the association state machine.
type AssociationSource interface {
	Status() network.Status
}

// UplinkSource reports the broker session and delivery pipeline.
type UplinkSource interface {
	Stats() uplink.Stats
}

// ProducerSource reports payload production counters.
type ProducerSource interface {
	Stats() payload.Stats
}

// SupplicantSource reports the wpa_supplicant daemon.
type SupplicantSource interface {
	Stats() process.Stats
}

// TelemetrySource reports the InfluxDB writer.
type TelemetrySource interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	DeviceID    string
	Version     string
	Association AssociationSource
	Uplink      UplinkSource

	// Optional sources. Missing ones are left out of responses.
	Producer   ProducerSource
	Supplicant SupplicantSource
	Telemetry  TelemetrySource
	Journal    journal.Repository
	DB         *database.DB
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	deviceID  string
	version   string
	assoc     AssociationSource
	uplink    UplinkSource
	producer  ProducerSource
	wpa       SupplicantSource
	telemetry TelemetrySource
	journal   journal.Repository
	db        *database.DB
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Association == nil {
		return nil, errors.New("association source is required")
	}
	if deps.Uplink == nil {
		return nil, errors.New("uplink source is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		deviceID:  deps.DeviceID,
		version:   deps.Version,
		assoc:     deps.Association,
		uplink:    deps.Uplink,
		producer:  deps.Producer,
		wpa:       deps.Supplicant,
		telemetry: deps.Telemetry,
		journal:   deps.Journal,
		db:        deps.DB,
		startTime: time.Now(),
	}, nil
}

// Handler returns the router. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in a background goroutine.
// Binding errors (port in use) are returned directly.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.server = srv
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Run starts the server and closes it when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}
