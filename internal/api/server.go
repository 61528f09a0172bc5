package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nerrad567/xrmonitor-core/internal/audit"
	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/config"
	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/logging"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
	"github.com/nerrad567/xrmonitor-core/internal/names"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Mixer is the part of the mixer engine the API drives. *mixer.Engine
// satisfies it.
type Mixer interface {
	IsConnected() bool
	Buses() []mixer.BusSummary
	GetBusSnapshot(ctx context.Context, bus int) (mixer.BusSnapshot, error)
	SetChannelLevel(channel, bus int, level float64) (float64, error)
	SetChannelMute(channel, bus int, muted bool) (float64, error)
	SetBusMasterLevel(bus int, level float64) (float64, error)
	StartActivePolling(bus int) error
	StopActivePolling(bus int) error
	RefreshNames(ctx context.Context) error
	ResolveName(kind mixer.NameKind, id int) string
	ResetAllToMinimum(ctx context.Context) error
	Stats() mixer.Stats
}

// HealthChecker is implemented by the database and MQTT clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Mixer    Mixer
	Users    auth.UserRepository
	Names    names.Repository

	// Audit is optional. AuditRetention of zero keeps every entry.
	Audit          audit.Repository
	AuditRetention time.Duration

	// Database and MQTT feed /health. MQTT is optional.
	Database HealthChecker
	MQTT     HealthChecker

	Version string
}

// Server is the HTTP API and WebSocket server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	mixer    Mixer
	users    auth.UserRepository
	names    names.Repository
	database HealthChecker
	mqtt     HealthChecker
	version  string

	audit          audit.Repository
	auditCh        chan *audit.AuditLog
	auditRetention time.Duration

	server    *http.Server
	hub       *Hub
	presence  *Presence
	tickets   *ticketStore
	startTime time.Time
	resetting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an API server. The hub and presence tracker exist from
// here on so change events can be broadcast before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Mixer == nil {
		return nil, fmt.Errorf("mixer is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Names == nil {
		return nil, fmt.Errorf("names repository is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.Component("api"),
		mixer:     deps.Mixer,
		users:     deps.Users,
		names:     deps.Names,
		database:  deps.Database,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		audit:     deps.Audit,
		tickets:   newTicketStore(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.presence = NewPresence(s.startBusPolling, s.stopBusPolling)
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.onDisconnect = func(c *WSClient) { s.leaveBus(c) }

	if s.audit != nil {
		s.auditRetention = deps.AuditRetention
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
		go s.drainAuditLog(s.ctx)
	}
	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	go s.hub.Run(s.ctx)
	go s.cleanTicketsLoop(s.ctx)
	go s.pruneAuditLoop(s.ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops background work, disconnects WebSocket clients and waits up
// to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.cancel()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// BroadcastChange relays a mixer change to the clients viewing its bus.
// It never blocks.
func (s *Server) BroadcastChange(ev mixer.ChangeEvent) {
	s.hub.BroadcastToBus(ev.Bus, EventChannelUpdated, channelUpdatedPayload{
		Bus:     ev.Bus,
		Channel: ev.Channel,
		Level:   ev.Level,
	})
}

// ViewerCount returns the number of WebSocket clients focused on bus.
func (s *Server) ViewerCount(bus int) int {
	return s.presence.Count(bus)
}
