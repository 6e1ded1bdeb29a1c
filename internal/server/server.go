// Package server assembles proxyd from its configuration.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/psantana5/dispatch-proxy/internal/config"
	"github.com/psantana5/dispatch-proxy/pkg/api"
	"github.com/psantana5/dispatch-proxy/pkg/auth"
	"github.com/psantana5/dispatch-proxy/pkg/handlers"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/metrics"
	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/ratelimit"
	"github.com/psantana5/dispatch-proxy/pkg/registry"
	"github.com/psantana5/dispatch-proxy/pkg/shutdown"
	"github.com/psantana5/dispatch-proxy/pkg/store"
	tlsutil "github.com/psantana5/dispatch-proxy/pkg/tls"
	"github.com/psantana5/dispatch-proxy/pkg/tracing"
)

// limiterIdle is how long an unused per-caller limiter is kept
const limiterIdle = 10 * time.Minute

// App is a fully wired proxyd instance
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Store      store.Store
	State      *ledger.State
	Registry   *registry.Registry
	Proxy      *proxy.Proxy
	Deployment *handlers.Deployment
	Metrics    *metrics.Metrics
	Tracing    *tracing.Provider
	Keys       *auth.KeyStore
	Limiter    *ratelimit.Limiter
	Router     *mux.Router
}

// New builds every component. On error anything already opened is closed.
func New(cfg *config.Config, logger *logging.Logger) (app *App, err error) {
	app = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.Background())
			app = nil
		}
	}()

	app.Store, err = store.NewStore(cfg.StoreConfig())
	if err != nil {
		return app, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Info("Store opened", logging.Fields{"type": cfg.Store.Type})

	app.Registry, err = registry.New(cfg.AdminAddress(), app.Store, logger)
	if err != nil {
		return app, fmt.Errorf("failed to load registry: %w", err)
	}

	alloc, err := cfg.GenesisAlloc()
	if err != nil {
		return app, err
	}
	app.State = ledger.NewState(alloc)

	catalog := proxy.NewCatalog()
	app.Deployment, err = handlers.Deploy(app.State, catalog, handlers.DeployConfig{
		Deployer:  cfg.DeployerAddress(),
		Vaults:    cfg.Deployment.Vaults,
		Exchanges: cfg.Deployment.Exchanges,
	})
	if err != nil {
		return app, err
	}
	if err = app.seedRegistrations(context.Background()); err != nil {
		return app, err
	}

	if cfg.Metrics.Enabled {
		app.Metrics = metrics.New(app.Registry.Len)
	}
	app.Tracing, err = tracing.InitTracer(cfg.Tracing, logger)
	if err != nil {
		return app, err
	}

	mws := []proxy.Middleware{proxy.TracingWithTracer(app.Tracing.Tracer())}
	opts := []proxy.Option{proxy.WithLogger(logger), proxy.WithRecorder(app.Store)}
	if app.Metrics != nil {
		mws = append(mws, app.Metrics.Middleware())
		opts = append(opts, proxy.WithObserver(app.Metrics))
	}
	mws = append(mws, proxy.Logging(logger), proxy.Recover(logger))
	opts = append(opts, proxy.WithMiddleware(mws...))

	app.Proxy, err = proxy.New(proxy.Config{
		Address:            cfg.ProxyAddress(),
		MaxDrainIterations: cfg.Proxy.MaxDrainIterations,
	}, app.State, app.Registry, catalog, opts...)
	if err != nil {
		return app, err
	}

	if cfg.Auth.Enabled {
		app.Keys = auth.NewKeyStore(cfg.Auth.BcryptCost)
		for _, p := range cfg.Principals {
			if err = app.Keys.AddKey(common.HexToAddress(p.Address), p.Name, p.APIKey); err != nil {
				return app, fmt.Errorf("failed to add key for %s: %w", p.Name, err)
			}
		}
	} else {
		logger.Warn("API authentication disabled; callers are taken from the X-Caller header")
	}
	if cfg.RateLimit.RPS > 0 {
		app.Limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	h := api.NewHandler(app.Proxy, app.Registry, app.Store, logger)
	app.Router = api.NewRouter(h, api.RouterOptions{
		Keys:    app.Keys,
		Limiter: app.Limiter,
		Metrics: app.Metrics,
		Tracing: app.Tracing,
	})

	logger.Info("Proxy ready", logging.Fields{
		"proxy":         cfg.Proxy.Address,
		"administrator": cfg.Administrator,
		"handlers":      app.Registry.Len(),
		"max_drain":     cfg.Proxy.MaxDrainIterations,
	})
	return app, nil
}

// seedRegistrations binds the configured built-in handlers under their own
// names. A persisted binding to an older address is moved to the fresh one.
func (a *App) seedRegistrations(ctx context.Context) error {
	admin := a.Config.AdminAddress()
	for _, name := range a.Config.Deployment.Register {
		addr, ok := a.Deployment.Handlers[name]
		if !ok {
			return fmt.Errorf("handler %q was not deployed", name)
		}
		id, err := models.ParseHandlerID(name)
		if err != nil {
			return err
		}

		err = a.Registry.Register(ctx, admin, id, addr)
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			current, rerr := a.Registry.Resolve(ctx, id)
			if rerr != nil {
				return rerr
			}
			if current == addr {
				continue
			}
			err = a.Registry.Rebind(ctx, admin, id, addr)
		}
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
		a.Logger.Info("Handler registered", logging.Fields{"name": name, "address": addr.Hex()})
	}
	return nil
}

// Run serves the API, and metrics when enabled, until ctx is cancelled or a
// listener fails. Shutdown hooks run in reverse registration order.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	mgr := shutdown.New(cfg.Server.ShutdownTimeout, a.Logger)
	errCh := make(chan error, 2)

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.Server.TLS.Enabled {
		tlsCfg, err := a.serverTLS()
		if err != nil {
			a.Close(context.Background())
			return err
		}
		apiSrv.TLSConfig = tlsCfg
	}

	mgr.Register("store", shutdown.CloseResource(a.Store, "store"))
	mgr.Register("tracing", a.Tracing.Shutdown)

	if a.Metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", a.Metrics.Handler())
		metricsSrv := &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		mgr.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics"))
		go func() {
			a.Logger.Info("Metrics server listening", logging.Fields{"address": cfg.Metrics.Address})
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	mgr.Register("api server", shutdown.StopHTTPServer(apiSrv, "api"))
	go func() {
		a.Logger.Info("API server listening", logging.Fields{
			"address": cfg.Server.Address,
			"tls":     cfg.Server.TLS.Enabled,
		})
		var err error
		if apiSrv.TLSConfig != nil {
			err = apiSrv.ListenAndServeTLS("", "")
		} else {
			err = apiSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.Limiter != nil {
		go a.sweepLimiters(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("Shutdown requested")
	case runErr = <-errCh:
		a.Logger.WithError(runErr).Error("Server failed")
	}

	if failed := mgr.Shutdown(); failed > 0 && runErr == nil {
		runErr = fmt.Errorf("%d shutdown hooks failed", failed)
	}
	return runErr
}

func (a *App) serverTLS() (*tls.Config, error) {
	t := a.Config.Server.TLS
	if t.AutoGenerate {
		generated, err := tlsutil.EnsureCertificate(t.CertFile, t.KeyFile, t.Hosts)
		if err != nil {
			return nil, err
		}
		if generated {
			a.Logger.Info("Generated self-signed certificate", logging.Fields{"cert": t.CertFile, "hosts": t.Hosts})
		}
	}
	return tlsutil.ServerConfig(t.CertFile, t.KeyFile, t.ClientCAFile)
}

func (a *App) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Limiter.CleanupOldLimiters(limiterIdle); n > 0 {
				a.Logger.Debug("Dropped idle rate limiters", logging.Fields{"count": n})
			}
		}
	}
}

// Close releases the store and tracer of a partially or fully built App
func (a *App) Close(ctx context.Context) {
	if a.Tracing != nil {
		if err := a.Tracing.Shutdown(ctx); err != nil {
			a.Logger.WithError(err).Warn("Tracer shutdown failed")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.WithError(err).Warn("Store close failed")
		}
	}
}
