// Package server orchestrates all components: WebSocket endpoint, COMMS
// bridge, dispatcher, failure journal and the HTTP health surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/morezero/socket-dispatch/internal/config"
	"github.com/morezero/socket-dispatch/internal/handlers"
	"github.com/morezero/socket-dispatch/pkg/commsutil"
	"github.com/morezero/socket-dispatch/pkg/connection"
	"github.com/morezero/socket-dispatch/pkg/db"
	"github.com/morezero/socket-dispatch/pkg/dispatcher"
	"github.com/morezero/socket-dispatch/pkg/envelope"
	"github.com/morezero/socket-dispatch/pkg/events"
	"github.com/morezero/socket-dispatch/pkg/filter"
	"github.com/morezero/socket-dispatch/pkg/registry"
	commstransport "github.com/morezero/socket-dispatch/pkg/transport/comms"
	"github.com/morezero/socket-dispatch/pkg/transport/ws"
)

const logPrefix = "server:server"

// defaultFailureLimit is the page size of /failures.
const defaultFailureLimit = 50

// Server is the socket-dispatch orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	journal    db.FailureJournal
	directory  *connection.Directory
	limiter    *filter.RateLimitFilter
	dispatcher *dispatcher.Dispatcher
	ws         *ws.Server
	bridge     *commstransport.Bridge
	metrics    *prometheus.Registry
	httpServer *http.Server
}

// New wires every component described by cfg. COMMS and the database are
// optional and only connected when their URLs are set.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.ValidateForServe(); err != nil {
		return nil, fmt.Errorf("%s - invalid config: %w", logPrefix, err)
	}
	s := &Server{cfg: cfg}

	// Step 1: failure journal
	if cfg.DatabaseURL != "" {
		if err := s.connectDatabase(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.journal = db.NewPostgresJournal(s.pool)
	} else {
		s.journal = db.NewMemoryJournal(cfg.JournalSize)
	}

	// Step 2: COMMS connection and connection-event publisher
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(commsutil.ConnectParams{URL: cfg.COMMSURL, Name: cfg.ServiceName})
		if err != nil {
			s.close()
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.EventSubject})
	}
	s.directory = connection.NewDirectory(publisher)

	// Step 3: handler table
	s.limiter = filter.RateLimit(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	defs, err := handlers.Definitions(handlers.Params{
		Directory:         s.directory,
		ProtocolVersion:   cfg.ProtocolVersion,
		VersionConstraint: cfg.VersionConstraint(),
		RateLimit:         s.limiter,
	})
	if err != nil {
		s.close()
		return nil, fmt.Errorf("%s - failed to build handlers: %w", logPrefix, err)
	}
	reg, err := registry.Build(defs)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("%s - failed to build registry: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Registered %d handlers: %v", logPrefix, reg.Len(), reg.Tags()))

	// Step 4: dispatcher with its own metrics registry
	s.metrics = prometheus.NewRegistry()
	s.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	dispatchMetrics := dispatcher.NewMetrics(s.metrics)
	if err := dispatchMetrics.Register(); err != nil {
		s.close()
		return nil, fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
	}
	s.dispatcher = dispatcher.New(dispatcher.Params{
		Registry: reg,
		Metrics:  dispatchMetrics,
		Journal:  s.journal,

		JournalTimeout: cfg.JournalTimeout,
	})

	// Step 5: transports
	s.ws = ws.NewServer(ws.ServerParams{
		Dispatcher:      s.dispatcher,
		Directory:       s.directory,
		OnClose:         s.limiter.Forget,
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		DispatchTimeout: cfg.DispatchTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})
	if s.nc != nil {
		s.bridge = commstransport.NewBridge(commstransport.BridgeParams{
			Conn:            s.nc,
			Subject:         cfg.COMMSSubject,
			Queue:           cfg.COMMSQueue,
			Dispatcher:      s.dispatcher,
			Directory:       s.directory,
			OnClose:         s.limiter.Forget,
			PeerIdleTimeout: cfg.PeerIdleTimeout,
			DispatchTimeout: cfg.DispatchTimeout,
		})
	}
	return s, nil
}

func (s *Server) connectDatabase(ctx context.Context) error {
	if s.cfg.EnsureDatabase {
		if err := db.EnsureDatabase(ctx, s.cfg.DatabaseURL); err != nil {
			return fmt.Errorf("%s - failed to ensure database: %w", logPrefix, err)
		}
	}
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(s.cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		applied, err := db.RunMigrations(ctx, pool, migrations)
		if err != nil {
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %d migrations", logPrefix, len(applied)))
	}
	return nil
}

// Handler returns the HTTP surface: the WebSocket endpoint plus health,
// readiness, metrics and introspection routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WSPath, s.ws)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{Registry: s.metrics}))
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/failures", s.handleFailures)
	return mux
}

// Start subscribes the COMMS bridge, if any, and starts the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			return fmt.Errorf("%s - failed to start COMMS bridge: %w", logPrefix, err)
		}
	}

	addr := s.cfg.ListenAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s (websocket %s)", logPrefix, addr, s.cfg.WSPath))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()
	return nil
}

// Shutdown stops both transports concurrently, then the HTTP listener, then
// closes COMMS and the database.
func (s *Server) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	if s.bridge != nil {
		g.Go(s.bridge.Stop)
	}
	if s.ws != nil {
		g.Go(func() error { return s.ws.Shutdown(ctx) })
	}
	errs := []error{g.Wait()}
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
	}
	s.close()
	return errors.Join(errs...)
}

func (s *Server) close() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
		s.nc = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

type healthOutput struct {
	Status      string          `json:"status"`
	Checks      map[string]bool `json:"checks"`
	Connections int             `json:"connections"`
	Timestamp   string          `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()

	out := healthOutput{
		Status:      "healthy",
		Checks:      map[string]bool{},
		Connections: s.directory.Len(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if s.nc != nil {
		out.Checks["comms"] = s.nc.IsConnected()
	}
	if s.pool != nil {
		out.Checks["database"] = s.pool.Ping(ctx) == nil
	}
	status := http.StatusOK
	for _, ok := range out.Checks {
		if !ok {
			out.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, out)
}

type connectionsOutput struct {
	Count       int      `json:"count"`
	Connections []string `json:"connections"`
	WebSocket   int      `json:"websocket"`
	COMMS       int      `json:"comms"`
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	out := connectionsOutput{
		Connections: s.directory.IDs(),
		WebSocket:   s.ws.Len(),
	}
	out.Count = len(out.Connections)
	if s.bridge != nil {
		out.COMMS = s.bridge.Len()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailureLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	failures, err := s.journal.ListRecent(ctx, limit)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - list failures: %v", logPrefix, err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list failures"})
		return
	}
	if failures == nil {
		failures = []db.Failure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := envelope.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", logPrefix, err))
	}
}

// ParseLogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLogLevel(cfg.LogLevel)})))

	slog.Info(fmt.Sprintf("%s - Starting %s (protocol %s)", logPrefix, cfg.ServiceName, cfg.ProtocolVersion))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.close()
		return err
	}
	slog.Info(fmt.Sprintf("%s - %s is ready", logPrefix, cfg.ServiceName))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - Shutdown: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
