// Package sqlite provides SQLite persistence for the content tree.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence/sqlbase"
	_ "github.com/mattn/go-sqlite3"
)

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE content_nodes (
				address TEXT PRIMARY KEY,
				kind TEXT NOT NULL CHECK (kind IN ('leaf', 'list', 'error')),
				data BLOB,
				charset TEXT,
				location TEXT,
				children TEXT,
				message TEXT,
				trace TEXT,
				causes TEXT,
				created_at TIMESTAMP NOT NULL
			);
		`,
	}
}

// Persistence stores the content tree in a single SQLite file in WAL mode.
type Persistence struct {
	db       *sql.DB
	nodeRepo *sqlbase.NodeRepository
}

// NewPersistence opens (creating if needed) the database at path. Accepts
// both plain paths and sqlite:// URLs.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	path = strings.TrimPrefix(path, "sqlite://")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, db, sqlbase.SQLite, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:       db,
		nodeRepo: sqlbase.NewNodeRepository(db, logger, sqlbase.SQLite),
	}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func (p *Persistence) Node(ctx context.Context, addr models.Address) (*models.ContentNode, error) {
	return p.nodeRepo.Node(ctx, addr)
}

func (p *Persistence) Insert(ctx context.Context, node *models.ContentNode) error {
	return p.nodeRepo.Insert(ctx, node)
}

func (p *Persistence) Addresses(ctx context.Context, prefix models.Address) ([]models.Address, error) {
	return p.nodeRepo.Addresses(ctx, prefix)
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db == nil {
		return nil
	}

	return p.db.Close()
}
