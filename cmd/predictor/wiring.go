package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polypredict/config"
	"github.com/alejandrodnm/polypredict/internal/adapters/oracle"
	"github.com/alejandrodnm/polypredict/internal/adapters/redisbus"
	"github.com/alejandrodnm/polypredict/internal/ports"
)

// openOracle devuelve la fuente de precios configurada y sus decimales.
func openOracle(ctx context.Context, cfg *config.Config) (ports.PriceOracle, int32, func(), error) {
	switch cfg.Oracle.Kind {
	case "http":
		feed := oracle.NewHTTPFeed(oracle.HTTPFeedConfig{
			URL:      cfg.Oracle.HTTPURL,
			Decimals: cfg.Oracle.Decimals,
			Timeout:  cfg.OracleTimeout(),
		})
		return feed, cfg.Oracle.Decimals, func() {}, nil

	case "chainlink":
		dialCtx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout())
		defer cancel()

		feed, err := oracle.DialChainlink(dialCtx, cfg.Oracle.RPCURL, cfg.Oracle.FeedAddress)
		if err != nil {
			return nil, 0, nil, err
		}
		dec, err := feed.Decimals(dialCtx)
		if err != nil {
			// El motor tolera un oráculo caído; solo la consola pierde la escala.
			slog.Warn("chainlink decimals unavailable, assuming 8", "err", err)
			dec = 8
		}
		return feed, int32(dec), feed.Close, nil
	}
	return nil, 0, nil, fmt.Errorf("main: unknown oracle kind %q", cfg.Oracle.Kind)
}

// redisBus agrupa el cliente con el publisher y el locker que lo comparten.
type redisBus struct {
	client    *redisbus.Client
	publisher *redisbus.Publisher
	locker    *redisbus.Locker
}

func (b *redisBus) Close() {
	if err := b.client.Close(); err != nil {
		slog.Warn("redis close failed", "err", err)
	}
}

// openRedis devuelve nil si redis no está configurado.
func openRedis(ctx context.Context, cfg *config.Config) (*redisBus, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client, err := redisbus.New(ctx, redisbus.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLS,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("redis connected", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	return &redisBus{
		client:    client,
		publisher: redisbus.NewPublisher(client, cfg.Redis.Prefix),
		locker:    redisbus.NewLocker(client),
	}, nil
}
