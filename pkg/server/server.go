// Package server assembles the proxy from its configuration and runs the
// API and metrics listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/iderikon/mediastorage-proxy/pkg/api"
	"github.com/iderikon/mediastorage-proxy/pkg/auth"
	"github.com/iderikon/mediastorage-proxy/pkg/config"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
	"github.com/iderikon/mediastorage-proxy/pkg/metrics"
	"github.com/iderikon/mediastorage-proxy/pkg/middleware"
	"github.com/iderikon/mediastorage-proxy/pkg/ratelimit"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/shutdown"
	"github.com/iderikon/mediastorage-proxy/pkg/storage"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
	tlsutil "github.com/iderikon/mediastorage-proxy/pkg/tls"
	"github.com/iderikon/mediastorage-proxy/pkg/tracing"
)

// Server owns every long-lived component of the proxy
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    store.Store
	backend  storage.Backend
	capacity storage.CapacityChecker
	reactor  *reactor.Reactor
	metrics  *metrics.Collector
	limiter  *ratelimit.Limiter
	tracer   *tracing.Provider
	router   *mux.Router
	shutdown *shutdown.Manager
}

// New builds the server. Components created before a failure are closed.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		shutdown: shutdown.New(cfg.Server.ShutdownTimeout, logger),
	}
	built := false
	defer func() {
		if !built {
			s.shutdown.Shutdown()
		}
	}()

	var err error
	s.store, err = store.NewStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	s.shutdown.Register("store", shutdown.CloseResource(s.store))

	switch cfg.Storage.Backend {
	case "memory":
		s.backend = storage.NewMemoryBackend()
		s.capacity = storage.Unlimited{}
	default:
		fs, err := storage.NewFSBackend(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		s.backend = fs
		s.capacity = storage.NewDiskCapacity(fs.Root())
	}

	s.reactor = reactor.New(cfg.Reactor, logger)
	s.shutdown.Register("reactor", s.reactor.Stop)

	s.tracer, err = tracing.InitTracer(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	s.shutdown.Register("tracing", s.tracer.Shutdown)

	s.metrics = metrics.NewCollector()
	s.metrics.RegisterReactor(s.reactor)
	s.metrics.RegisterStore(s.store)

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	proxy := api.New(api.Options{
		Backend:      s.backend,
		Store:        s.store,
		Reactor:      s.reactor,
		Capacity:     s.capacity,
		Limiter:      s.limiter,
		Verifier:     auth.NewVerifier(cfg.Auth.APIKeys...),
		Metrics:      s.metrics,
		Logger:       logger,
		Namespaces:   cfg.Namespaces,
		ChunkSize:    cfg.Server.ChunkSize,
		MinFreeBytes: cfg.Storage.MinFreeBytes,
	})

	s.router = mux.NewRouter()
	s.router.Use(tracing.Middleware(s.tracer), middleware.AccessLog(logger))
	proxy.RegisterRoutes(s.router)

	built = true
	return s, nil
}

// Handler returns the API handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the metrics collector
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Store returns the metadata store
func (s *Server) Store() store.Store {
	return s.store
}

// Close stops every component
func (s *Server) Close() error {
	return s.shutdown.Shutdown()
}

// Run serves until ctx is cancelled or a termination signal arrives
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}
	if s.cfg.Server.TLSEnabled() {
		tlsConfig, err := tlsutil.LoadTLSConfig(s.cfg.Server.CertFile, s.cfg.Server.KeyFile, s.cfg.Server.ClientCAFile)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	} else {
		s.logger.Warn("TLS disabled")
	}

	var metricsSrv *http.Server
	if s.cfg.Server.MetricsListen != "" {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", s.metrics.Handler()).Methods("GET")
		metricsSrv = &http.Server{
			Addr:              s.cfg.Server.MetricsListen,
			Handler:           metricsRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.shutdown.Register("metrics listener", shutdown.StopHTTPServer(metricsSrv))
	}
	s.shutdown.Register("api listener", shutdown.StopHTTPServer(srv))

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("api listening", map[string]interface{}{
			"addr": srv.Addr,
			"tls":  srv.TLSConfig != nil,
		})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api listener: %w", err)
		}
	}()

	if metricsSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.logger.Info("metrics listening", map[string]interface{}{"addr": metricsSrv.Addr})
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics listener: %w", err)
			}
		}()
	}

	if s.limiter != nil && s.cfg.RateLimit.CleanupInterval > 0 {
		go s.cleanupLimiter(ctx, s.cfg.RateLimit.CleanupInterval)
	}

	// A listener that fails to start ends the run like a signal would
	waitCtx, stopWait := context.WithCancel(ctx)
	defer stopWait()
	failed := make(chan error, 1)
	go func() {
		select {
		case err := <-errCh:
			failed <- err
			stopWait()
		case <-waitCtx.Done():
		}
	}()

	err := s.shutdown.Wait(waitCtx)
	wg.Wait()
	select {
	case runErr := <-failed:
		return runErr
	default:
		return err
	}
}

func (s *Server) cleanupLimiter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(interval); n > 0 {
				s.logger.Debug("evicted idle rate limiters", map[string]interface{}{"count": n})
			}
		}
	}
}
