package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/datim/adx-mediator/internal/config"
	"github.com/datim/adx-mediator/internal/delivery"
	"github.com/datim/adx-mediator/internal/errs"
	"github.com/datim/adx-mediator/internal/handler/http/health"
	httpiface "github.com/datim/adx-mediator/internal/handler/http/interface"
	"github.com/datim/adx-mediator/internal/handler/http/relay"
	"github.com/datim/adx-mediator/internal/metrics"
	"github.com/datim/adx-mediator/internal/openhim"
	"github.com/datim/adx-mediator/internal/poller"
	"github.com/datim/adx-mediator/internal/transport"
	"github.com/datim/adx-mediator/internal/worker"
)

const controlPlaneTimeout = 30 * time.Second

type prometheusRegistry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// App represents the mediator with its lifecycle management
type App struct {
	config   *config.Config
	mediator config.Mediator
	log      *slog.Logger

	echo         *echo.Echo
	listener     net.Listener // optional, set by tests
	readiness    *atomic.Bool
	registry     prometheusRegistry
	provider     *config.Provider
	httpHandlers []httpiface.HttpRouter

	client     transport.Doer
	workerPool *worker.Pool
	poller     *poller.Poller
	control    *openhim.Client // nil in standalone mode
}

// NewApp creates the app. Nothing touches the network until Run.
func NewApp(cfg *config.Config, mediator config.Mediator, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	a := &App{
		config:    cfg,
		mediator:  mediator,
		log:       log,
		echo:      e,
		readiness: atomic.NewBool(false),
		registry:  prometheus.DefaultRegisterer.(prometheusRegistry),
	}
	a.provider = config.NewProvider(func(rc config.RelayConfig) {
		a.log.Info("relay config stored",
			"upstream_url", rc.UpstreamURL,
			"upstream_task_url", rc.UpstreamTaskURL,
			"receiver_url", rc.ReceiverURL,
			"upstream_async", rc.UpstreamAsync,
			"dhis_async", rc.DHISAsync,
			"polling_interval", rc.Interval(),
		)
	})
	return a
}

// injectDependency builds the secure client and every component hanging
// off it. Unreadable TLS material is returned as a config error.
func (a *App) injectDependency() error {
	if a.client == nil {
		client, err := transport.New(transport.Options{
			KeyFile:          a.config.TLSKeyFile,
			CertFile:         a.config.TLSCertFile,
			CAFile:           a.config.TLSCAFile,
			Timeout:          a.config.ClientTimeout(),
			MaxResponseBytes: int64(a.config.MaxResponseBodyMB) << 20,
		})
		if err != nil {
			return err
		}
		a.client = client
	}

	if a.config.Register && a.control == nil {
		cp, err := transport.New(transport.Options{
			InsecureSkipVerify: a.config.OpenHIMTrustSelfSigned,
			Timeout:            controlPlaneTimeout,
		})
		if err != nil {
			return err
		}
		a.control = openhim.New(cp, a.config.OpenHIMAPIURL, a.config.OpenHIMUsername, a.config.OpenHIMPassword, a.log.With("component", "openhim"))
	}

	a.workerPool = worker.NewPool(a.client, a.config.DeliveryWorkerCount, a.config.DeliveryQueueSize, a.config.ShutdownTimeout(), a.log.With("component", "delivery"))
	deliverer := delivery.New(a.workerPool, a.log.With("component", "delivery"))
	a.poller = poller.New(a.client, deliverer, a.log.With("component", "poller"))

	a.httpHandlers = []httpiface.HttpRouter{
		health.NewHealthHandler(a.readiness, a.provider),
		relay.NewRelayHandler(a.mediator.URN, a.provider, a.client, a.poller, deliverer, a.log.With("component", "relay")),
	}
	return nil
}

// loadRelayConfig seeds the provider. Registered mode registers with the
// control-plane and fetches the stored config; standalone mode uses the
// config block of the mediator document and never changes it.
func (a *App) loadRelayConfig(ctx context.Context) error {
	if a.control == nil {
		if err := a.mediator.Config.Validate(); err != nil {
			return err
		}
		a.log.Info("standalone mode, using bundled mediator config", "urn", a.mediator.URN)
		a.provider.Store(a.mediator.Config)
		return nil
	}

	if err := a.control.Register(ctx, a.mediator); err != nil {
		return err
	}
	cfg, err := a.control.FetchConfig(ctx, a.mediator.URN)
	if err != nil {
		return err
	}
	a.log.Info("received initial mediator config", "urn", a.mediator.URN)
	a.provider.Store(cfg)
	return nil
}

// setupServer installs middleware and routes.
func (a *App) setupServer() {
	e := a.echo

	// 1. Request logging
	e.Use(slogecho.New(a.log.With("component", "http")))

	// 2. Panic recovery
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	// 3. Body size limit, ADX payloads can be large
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", a.config.MaxRequestSizeMB)))

	// 4. Reject new work while starting or draining; probes and metrics stay up
	e.Use(a.readinessGate)

	// 5. Prometheus HTTP metrics
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  metrics.Namespace,
		Registerer: a.registry,
	}))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: a.registry,
	}))

	for _, handler := range a.httpHandlers {
		handler.SetupRoutes(e)
	}
}

func (a *App) readinessGate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.readiness.Load() && !isProbe(c.Request()) {
			a.log.Info("readiness=false: reject new request", "method", c.Request().Method, "path", c.Request().URL.Path)
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return next(c)
	}
}

// isProbe reports whether r is a GET on a probe or metrics path. Any other
// request on those paths falls through to the relay route.
func isProbe(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return true
	default:
		return false
	}
}

// Run wires everything, loads the relay config and serves until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.injectDependency(); err != nil {
		return err
	}
	if err := a.loadRelayConfig(ctx); err != nil {
		return err
	}
	return a.serve(ctx)
}

// serve runs the server and, when registered, the heartbeat loop until ctx
// is done, then shuts down gracefully.
func (a *App) serve(ctx context.Context) error {
	a.setupServer()
	a.workerPool.Start()

	addr := fmt.Sprintf(":%d", a.config.ServerPort)
	if a.listener != nil {
		a.echo.Listener = a.listener
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("starting adx mediator", "addr", addr, "urn", a.mediator.URN, "registered", a.control != nil)
		a.readiness.Store(true)
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.Config(err, "http server", map[string]any{"addr": addr})
		}
		return nil
	})

	if a.control != nil {
		g.Go(func() error {
			return a.control.Watch(gctx, a.mediator.URN, a.config.HeartbeatInterval(), a.provider)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

// shutdown drains, stops the HTTP server, cancels polling sessions and
// finally flushes the delivery queue.
func (a *App) shutdown() error {
	a.log.Info("shutting down gracefully")

	// Step 1: load balancers stop routing traffic
	a.readiness.Store(false)
	drain := a.config.ShutdownDrain()
	a.log.Info("readiness=false: start drain window", "duration", drain)
	time.Sleep(drain)

	// Step 2: in-flight relay requests finish and submit their deliveries
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout())
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown timed out, closing remaining connections", "error", err)
		_ = a.echo.Close()
	}

	// Step 3: pending polling sessions are abandoned
	a.poller.Close(a.config.ShutdownTimeout())

	// Step 4: queued notifications are sent
	a.workerPool.Stop()

	a.log.Info("mediator stopped")
	return nil
}
