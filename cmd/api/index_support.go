package main

import (
	"context"

	"github.com/samber/oops"

	"github.com/yourusername/comic-library/internal/config"
	"github.com/yourusername/comic-library/internal/index"
	"github.com/yourusername/comic-library/internal/library"
)

// setupIndex はページ数抽出のキューを組み立てます。QUEUE_REDIS_URL が空なら nil を返します。
func setupIndex(ctx context.Context, cfg *config.Config, app *application) (*index.Manager, error) {
	if cfg.QueueRedisURL == "" {
		return nil, nil
	}

	client, err := connectRedis(ctx, cfg.QueueRedisURL)
	if err != nil {
		return nil, oops.Code("QUEUE_UNAVAILABLE").Wrap(err)
	}
	app.closers = append(app.closers, client.Close)

	store := index.NewStore(client, cfg.IndexTTL())
	// ワーカー用。ここから Lookup は呼ばない
	lib := library.NewService(cfg.LibraryDir, nil, app.logger)
	manager, err := index.NewManager(cfg.QueueRedisURL, store, lib, index.PDFInspector{}, app.logger)
	if err != nil {
		return nil, oops.Code("QUEUE_UNAVAILABLE").Wrap(err)
	}
	return manager, nil
}
