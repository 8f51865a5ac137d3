package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/persistence/file"
	"github.com/dukex/operion-monitor/pkg/persistence/memory"
	"github.com/dukex/operion-monitor/pkg/persistence/postgresql"
	"github.com/dukex/operion-monitor/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"memory", "file", "postgres", "postgresql", "sqlite"}

// NewPersistence creates the content store named by databaseURL's scheme.
// An empty URL selects the in-memory store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Initializing content store", "provider", provider)

	switch provider {
	case "file":
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, databaseURL)
	default:
		return memory.NewPersistence(), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "memory", nil
	}

	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", fmt.Errorf("invalid database url %q: missing scheme", databaseURL)
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider: %s", provider)
}
