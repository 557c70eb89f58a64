// Package cmd provides shared constructors for the pipevine binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pipevine/pipevine/pkg/persistence"
	"github.com/pipevine/pipevine/pkg/persistence/file"
	"github.com/pipevine/pipevine/pkg/persistence/postgresql"
)

// NewPersistence builds the persistence layer from the database URL scheme:
// postgres:// selects PostgreSQL, anything else falls back to file persistence.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres persistence: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}
