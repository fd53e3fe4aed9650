package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/motion"
)

const httpShutdownTimeout = 5 * time.Second

// Exporter serves gateway and blind state as Prometheus metrics. Unlike
// the bridge it holds no subscriptions and runs no listener; all radio
// traffic happens inside the scrape.
type Exporter struct {
	cfg *Config

	// gwOpts is appended to every gateway constructor call. Tests inject
	// a redirecting transport here.
	gwOpts []motion.GatewayOption

	registry  *prometheus.Registry
	collector *Collector
	gateways  []*motion.Gateway
}

// New validates the configuration and builds the exporter. Gateways are
// constructed but not contacted; the first scrape bootstraps them.
func New(cfg *Config) (*Exporter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &Exporter{cfg: cfg}, nil
}

// Run serves metrics until the context is cancelled or the HTTP server
// fails.
func (e *Exporter) Run(ctx context.Context) error {
	log := logging.GetLogger()

	if err := e.setup(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         e.cfg.Listen,
		Handler:      e.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(e.cfg.ScrapeTimeout) + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Metrics server listening",
			zap.String("addr", e.cfg.Listen),
			zap.String("path", e.cfg.MetricsPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		_ = log.Sync()
		return nil
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// setup builds the gateways and registers the collector. Split from Run
// so tests can scrape without a server.
func (e *Exporter) setup() error {
	opts := []motion.GatewayOption{
		motion.WithLogger(logging.GetLogger()),
	}
	opts = append(opts, e.gwOpts...)

	for _, gc := range e.cfg.Gateways {
		gw, err := motion.NewGateway(gc.IP, gc.Key, opts...)
		if err != nil {
			return fmt.Errorf("gateway %s: %w", gc.IP, err)
		}
		e.gateways = append(e.gateways, gw)
	}

	e.collector = NewCollector(e.gateways, time.Duration(e.cfg.ScrapeTimeout))
	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(e.collector)
	return nil
}

func (e *Exporter) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(e.cfg.MetricsPath, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
