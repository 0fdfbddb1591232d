package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bullieverse/marketd/internal/server"
	"github.com/bullieverse/marketd/internal/server/handler"
	"github.com/bullieverse/marketd/internal/server/ws"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain after the
// run context is cancelled.
const shutdownGrace = 10 * time.Second

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.runServer(ctx, deps, false)
}

// ArchiverMode runs only the periodic fill archiver.
func (a *App) ArchiverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archiver mode")
	return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
}

// FullMode runs the API and, when configured, the archiver loop in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runServer(ctx, deps, true)
}

func (a *App) runServer(ctx context.Context, deps *Dependencies, withArchiver bool) error {
	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub needs the signal bus; without Redis the /ws route is
	// simply not registered.
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		server.Handlers{
			Health: a.buildHealthHandler(deps),
			Fills:  handler.NewFillHandler(deps.Settlements, a.logger),
			Admin:  handler.NewAdminHandler(deps.Admin, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withArchiver && deps.Archiver != nil {
		g.Go(func() error {
			if err := deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration); err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// buildHealthHandler registers a ping per configured backing component.
func (a *App) buildHealthHandler(deps *Dependencies) *handler.HealthHandler {
	health := handler.NewHealthHandler(a.logger)

	health.AddCheck("engine", func(ctx context.Context) error {
		_, err := deps.Fees.Snapshot(ctx)
		return err
	})
	if deps.Postgres != nil {
		health.AddCheck("postgres", func(ctx context.Context) error {
			return deps.Postgres.Pool().Ping(ctx)
		})
	}
	if deps.Redis != nil {
		health.AddCheck("redis", deps.Redis.Ping)
	}
	if deps.Blob != nil {
		health.AddCheck("s3", deps.Blob.Health)
	}

	return health
}
