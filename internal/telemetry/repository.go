package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	Store(ctx context.Context, snapshot *StateSnapshot) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) Store(ctx context.Context, snapshot *StateSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO pool_state (
            timestamp, desired_concurrency, current_concurrency,
            min_concurrency, max_concurrency,
            system_overloaded, memory_ratio, event_loop_ratio, cpu_ratio, client_ratio
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            desired_concurrency = excluded.desired_concurrency,
            current_concurrency = excluded.current_concurrency,
            min_concurrency = excluded.min_concurrency,
            max_concurrency = excluded.max_concurrency,
            system_overloaded = excluded.system_overloaded,
            memory_ratio = excluded.memory_ratio,
            event_loop_ratio = excluded.event_loop_ratio,
            cpu_ratio = excluded.cpu_ratio,
            client_ratio = excluded.client_ratio
    `,
		snapshot.Timestamp.Unix(),
		snapshot.Concurrency.Desired,
		snapshot.Concurrency.Current,
		snapshot.Concurrency.Min,
		snapshot.Concurrency.Max,
		boolToInt(snapshot.System.Overloaded),
		snapshot.System.MemoryRatio,
		snapshot.System.EventLoopRatio,
		snapshot.System.CPURatio,
		snapshot.System.ClientRatio,
	)
	if err != nil {
		return errors.New().Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}
