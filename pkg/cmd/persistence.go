// Package cmd holds the constructors that turn command line settings into components.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/fileflow/pkg/persistence"
	"github.com/dukex/fileflow/pkg/persistence/file"
	"github.com/dukex/fileflow/pkg/persistence/postgresql"
)

// NewPersistence selects the store from the URL scheme: file://<dir> or postgres://.
// A bare path is treated as a file store root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("file persistence needs a directory: %q", databaseURL)
		}

		if err := os.MkdirAll(rest, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create file persistence root: %w", err)
		}

		logger.InfoContext(ctx, "Using file persistence", "root", rest)

		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
