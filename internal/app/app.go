// Package app assembles serverlink's components into an fx application.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"serverlink/internal/bridge"
	"serverlink/internal/config"
	"serverlink/internal/dynamic"
	"serverlink/internal/history"
	"serverlink/internal/httpapi"
	"serverlink/internal/logging"
	"serverlink/internal/master"
	"serverlink/internal/query"
	"serverlink/internal/resolver"
	"serverlink/internal/servers"
	"serverlink/internal/session"
)

const dialTimeout = 10 * time.Second

// Host is the native side: it takes commands and produces events.
type Host interface {
	bridge.Invoker
	bridge.Source
}

// Core is everything needed to resolve addresses: the store, both HTTP
// sources, the host bridge and the event pump feeding query results back.
var Core = fx.Module("core",
	fx.Provide(
		provideLogger,
		clock.New,
		servers.NewStore,
		provideMaster,
		provideFetcher,
		provideHost,
		provideQuerier,
		provideResolver,
		provideRouter,
		provideRefresher,
	),
	fx.Invoke(startPump, startJanitor),
)

// Module is the full service: Core plus the connect session, history and
// the control API.
var Module = fx.Options(
	Core,
	fx.Module("service",
		fx.Provide(
			provideHistory,
			provideSession,
			provideHTTPServer,
		),
		fx.Invoke(routeSessionEvents, startRefresh, startHTTP),
	),
)

// New builds the full service for cfg.
func New(cfg config.Config, opts ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{
		fx.Supply(cfg),
		Module,
		WithLogger,
	}, opts...)...)
}

// WithLogger routes fx's own events through the service logger.
var WithLogger = fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
	l := &fxevent.ZapLogger{Logger: log.Named("fx")}
	l.UseLogLevel(zap.DebugLevel)
	return l
})

func provideLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

func provideMaster(cfg config.Config, log *zap.Logger) *master.Client {
	return master.NewClient(cfg.MasterURL, cfg.JoinIDTimeout, log)
}

func provideFetcher(cfg config.Config) *dynamic.Fetcher {
	return dynamic.NewFetcher(cfg.DynamicTimeout)
}

// provideHost dials the WebSocket bridge when one is configured and falls
// back to the local UDP host otherwise. A dropped bridge shuts the app down.
func provideHost(lc fx.Lifecycle, sd fx.Shutdowner, cfg config.Config, log *zap.Logger) (Host, error) {
	if cfg.BridgeURL == "" {
		h := query.NewLocalHost(cfg.QueryRate, cfg.QueryTimeout, log)
		lc.Append(fx.StopHook(h.Close))
		return h, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	ws, err := bridge.DialWS(ctx, cfg.BridgeURL, log)
	if err != nil {
		return nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := ws.Run(runCtx); err != nil {
					log.Error("bridge connection lost", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stop()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return ws.Close()
		},
	})
	return ws, nil
}

func provideQuerier(cfg config.Config, host Host, clk clock.Clock, log *zap.Logger) *query.Querier {
	return query.NewQuerier(host, cfg.QueryTimeout, clk, log)
}

func provideResolver(cfg config.Config, store *servers.Store, m *master.Client, f *dynamic.Fetcher, q *query.Querier, log *zap.Logger) *resolver.Resolver {
	return resolver.New(cfg.Resolver(), store, m, f, q, log)
}

func provideRouter(q *query.Querier) *bridge.Router {
	return bridge.NewRouter(q)
}

func startPump(lc fx.Lifecycle, r *bridge.Router, host Host) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.Pump(ctx, host.Events())
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func startJanitor(lc fx.Lifecycle, cfg config.Config, store *servers.Store, log *zap.Logger) {
	if cfg.JanitorInterval <= 0 || cfg.StaleAfter <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			servers.StartJanitor(ctx, store, cfg.JanitorInterval, cfg.StaleAfter, log)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func provideRefresher(r *resolver.Resolver, log *zap.Logger) *resolver.Refresher {
	return resolver.NewRefresher(r, 0, log)
}

func startRefresh(lc fx.Lifecycle, cfg config.Config, rf *resolver.Refresher) {
	if cfg.RefreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				rf.Run(ctx, cfg.RefreshWorkers, cfg.RefreshInterval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func provideHistory(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*history.Store, error) {
	h, err := history.Open(cfg.HistoryPath, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(h.Close))
	return h, nil
}

func provideSession(cfg config.Config, res *resolver.Resolver, host Host, h *history.Store, log *zap.Logger) *session.Session {
	return session.New(res, host, h, session.Options{ManualEndpoint: cfg.ManualEndpoint}, log)
}

func routeSessionEvents(r *bridge.Router, s *session.Session) {
	r.Add(s)
}

func provideHTTPServer(cfg config.Config, res *resolver.Resolver, s *session.Session, h *history.Store, log *zap.Logger) *http.Server {
	return &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewHandler(httpapi.Deps{
			Resolver: res,
			Store:    res.Store(),
			Session:  s,
			History:  h,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startHTTP(lc fx.Lifecycle, srv *http.Server, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
