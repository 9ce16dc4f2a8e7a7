package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polypredict/config"
	"github.com/alejandrodnm/polypredict/internal/adapters/httpapi"
	"github.com/alejandrodnm/polypredict/internal/adapters/storage"
	"github.com/alejandrodnm/polypredict/internal/application/engine"
	"github.com/alejandrodnm/polypredict/internal/application/keeper"
	"github.com/alejandrodnm/polypredict/internal/ports"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// serve corre el keeper y la API hasta que ctx se cancele.
func serve(ctx context.Context, cfg *config.Config, eng *engine.Engine, store *storage.SQLiteStorage, bus *redisBus, once bool) error {
	g, gctx := errgroup.WithContext(ctx)

	if cfg.KeeperEnabled() || once {
		var locker ports.Locker
		if bus != nil {
			locker = bus.locker
		}
		k := keeper.New(keeper.Config{
			Caller:       cfg.Keeper.Caller,
			PollInterval: cfg.PollInterval(),
			AutoGenesis:  true,
			AutoRecover:  *cfg.Keeper.AutoRecover,
			LockKey:      cfg.Keeper.LockKey,
			LockTTL:      cfg.LockTTL(),
			DryRun:       once,
		}, eng, locker)
		g.Go(func() error { return k.Run(gctx) })
	}

	if cfg.HTTP.Addr != "" && !once {
		srv := httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr, APIKey: cfg.HTTP.APIKey}, eng, eng, store, slog.Default())
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}
