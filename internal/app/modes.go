package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doubledice/ddindexer/internal/engine"
	"github.com/doubledice/ddindexer/internal/ingest"
	"github.com/doubledice/ddindexer/internal/metadata"
	"github.com/doubledice/ddindexer/internal/server"
	"github.com/doubledice/ddindexer/internal/server/handler"
	"github.com/doubledice/ddindexer/internal/server/ws"
)

// IngestMode replays the event stream into the repository and projection,
// without serving queries.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Once the stream is exhausted there is nothing left to do; cancel so the
	// archiver flushes and exits.
	if err := a.startIngestion(ctx, g, deps, nil, cancel); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	return g.Wait()
}

// ServeMode serves the HTTP and WebSocket API over the state loaded from the
// projection, without ingesting new events.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, hub)

	return g.Wait()
}

// FullMode ingests the event stream and serves the API at the same time,
// pushing floor transitions to WebSocket subscribers as they commit.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, deps, hub)
	}

	if err := a.startIngestion(ctx, g, deps, hub, nil); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	return g.Wait()
}

// startIngestion adds the ingest runner (and, when S3 is wired, the transfer
// archiver) to the given errgroup. When hub is non-nil, committed floor
// transitions are broadcast to it. onDone, when non-nil, is called after the
// runner finishes; modes with no other work pass their cancel func here.
func (a *App) startIngestion(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, onDone func()) error {
	src, err := ingest.OpenFile(a.cfg.Ingest.StreamPath)
	if err != nil {
		return err
	}

	eng := engine.New(deps.Repo, deps.Tokens, metadata.ABIDecoder{}, a.logger)

	runnerCfg := ingest.Config{
		StartAfter:       deps.Checkpoint,
		Projection:       deps.Store,
		RetryBaseDelay:   a.cfg.Ingest.RetryBaseDelay.Duration,
		RetryMaxAttempts: a.cfg.Ingest.RetryMaxAttempts,
		Logger:           a.logger,
	}
	if deps.Archiver != nil {
		runnerCfg.Transfers = deps.Archiver

		flushInterval := a.cfg.Ingest.ArchiveFlushInterval.Duration
		if flushInterval <= 0 {
			flushInterval = time.Minute
		}
		g.Go(func() error {
			return deps.Archiver.RunLoop(ctx, flushInterval)
		})
	}
	if hub != nil {
		runnerCfg.OnTransition = hub.BroadcastTransition
	}

	runner := ingest.NewRunner(eng, src, runnerCfg)
	a.logger.InfoContext(ctx, "ingestion wired",
		slog.String("run_id", runner.ID()),
		slog.String("stream", a.cfg.Ingest.StreamPath),
	)

	g.Go(func() error {
		defer src.Close()
		err := runner.Run(ctx)
		if onDone != nil {
			onDone()
		}
		return err
	})
	return nil
}

// startHTTPServer adds the HTTP server goroutine plus its graceful-shutdown
// watcher to the given errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	var claimCache handler.ClaimCache
	if deps.ClaimCache != nil {
		claimCache = deps.ClaimCache
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(deps.Repo, a.logger),
			Floors: handler.NewFloorHandler(deps.Repo, a.logger),
			Claims: handler.NewClaimHandler(deps.Repo, claimCache, a.logger),
			Tokens: handler.NewTokenHandler(deps.Repo, a.logger),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
