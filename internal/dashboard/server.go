// Package dashboard serves the processed fitness dataset as JSON for a
// dashboard front end, and reloads it whenever the pipeline rewrites it.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/fitetl/internal/adapter"
	"github.com/leapstack-labs/fitetl/internal/load"
	"github.com/leapstack-labs/fitetl/internal/metrics"
	"github.com/leapstack-labs/fitetl/internal/state"
)

// ErrNotLoaded is returned by data endpoints before the first successful load.
var ErrNotLoaded = errors.New("dataset not loaded")

// Config holds configuration for the dashboard server.
type Config struct {
	// Addr is the listen address, e.g. ":8050".
	Addr string
	// DataPath is the CSV or Parquet output to serve.
	DataPath string
	// DuckDB configures the in-memory database used to read Parquet.
	DuckDB adapter.Config
	// Watch reloads the dataset when DataPath changes.
	Watch bool
	// Debounce delays a reload after the last change event. Defaults to 200ms.
	Debounce time.Duration
	// Store and Environment back /api/runs. Store is optional.
	Store       state.Store
	Environment string
	// Metrics is exposed on /metrics when set.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the dashboard data server.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	dataset *Dataset
	loadErr error
}

// NewServer creates a server. Call Load before serving to fail fast on a
// missing dataset.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8050"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	return &Server{cfg: cfg, logger: cfg.Logger, loadErr: ErrNotLoaded}
}

// Load reads DataPath and swaps in the new dataset. On failure the previous
// dataset stays in place.
func (s *Server) Load(ctx context.Context) error {
	start := time.Now()
	t, err := load.ReadOutput(ctx, s.cfg.DataPath, s.cfg.DuckDB)
	if err != nil {
		err = fmt.Errorf("load %s: %w", s.cfg.DataPath, err)
		s.mu.Lock()
		if s.dataset == nil {
			s.loadErr = err
		}
		s.mu.Unlock()
		return err
	}

	ds := NewDataset(t, s.cfg.DataPath, time.Now().UTC())

	s.mu.Lock()
	s.dataset = ds
	s.loadErr = nil
	s.mu.Unlock()

	s.logger.Info("dataset loaded", "path", s.cfg.DataPath, "rows", t.Len(), "duration", time.Since(start))
	return nil
}

// current returns the loaded dataset or the reason there is none.
func (s *Server) current() (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return nil, s.loadErr
	}
	return s.dataset, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(s.logger),
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/seasons", s.handleSeasons)
		r.Get("/bmi-categories", s.handleBMICategories)
		r.Get("/participants/{id}/weekly", s.handleParticipantWeekly)
		r.Get("/runs", s.handleRuns)
	})
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Serve listens on Addr and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully. The watcher, when enabled, runs alongside the HTTP server.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting dashboard server", "addr", "http://"+ln.Addr().String(), "data", s.cfg.DataPath)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watch {
		watcher, err := s.newWatcher()
		if err != nil {
			_ = ln.Close()
			return err
		}
		eg.Go(func() error {
			return s.watch(egctx, watcher)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down dashboard server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// newWatcher watches the directory holding DataPath. The loader renames a
// temp file into place, so the file itself cannot be watched.
func (s *Server) newWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.cfg.DataPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(s.cfg.DataPath), err)
	}
	return watcher, nil
}

func (s *Server) watch(ctx context.Context, watcher *fsnotify.Watcher) error {
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(s.cfg.DataPath)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(s.cfg.Debounce)

		case <-timer.C:
			s.logger.Debug("data file changed, reloading", "path", target)
			if err := s.Load(ctx); err != nil {
				s.logger.Error("reload failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// requestLogger logs each request at debug level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
