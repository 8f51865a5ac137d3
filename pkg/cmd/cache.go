package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/operion-monitor/pkg/materializer"
)

// NewCache creates the materialization memo for runID: Redis when redisURL
// is set, otherwise in-process. The returned close func is never nil.
func NewCache(ctx context.Context, logger *slog.Logger, redisURL, runID string) (materializer.Cache, func() error, error) {
	if redisURL == "" {
		return materializer.NewMemoryCache(), func() error { return nil }, nil
	}

	cache, err := materializer.NewRedisCacheFromURL(ctx, redisURL, "operion-monitor:"+runID+":")
	if err != nil {
		return nil, nil, err
	}

	logger.InfoContext(ctx, "Using Redis materialization cache")

	return cache, cache.Close, nil
}
