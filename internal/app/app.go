package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statusboard/internal/config"
	"statusboard/internal/db"
	"statusboard/internal/domain"
	"statusboard/internal/engine"
	"statusboard/internal/migrate"
	"statusboard/internal/store"
)

// OpenBackend opens the configured state backend. SQLite databases are
// migrated before use.
func OpenBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.State.Backend {
	case config.BackendFile, "":
		return store.NewFile(cfg.State.Path), nil
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{Path: cfg.State.Path})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate state db: %w", err)
		}
		return store.NewSQLite(conn), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// RequireSeeded loads the document once so a missing or corrupt seed stops
// the server before it accepts connections.
func RequireSeeded(ctx context.Context, s store.Store) (*domain.Document, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotSeeded) {
			return nil, fmt.Errorf("%w; create it with sb seed", err)
		}
		return nil, err
	}
	return doc, nil
}

// Seed writes a fresh document built from the config roster.
func Seed(ctx context.Context, b store.Backend, cfg *config.Config, force bool, now time.Time) (*domain.Document, error) {
	if len(cfg.Roster) == 0 {
		return nil, errors.New("config.roster is empty; nothing to seed")
	}
	roles := make([]domain.Role, 0, len(cfg.Roster))
	for _, r := range cfg.Roster {
		roles = append(roles, domain.Role{ID: r.ID, Name: r.Name})
	}
	doc := domain.NewDocument(roles, now.UTC().Format(engine.LastUpdateLayout))
	if err := b.Seed(ctx, doc, force); err != nil {
		return nil, err
	}
	return doc, nil
}
