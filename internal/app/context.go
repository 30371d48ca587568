package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bidline/internal/config"
	"bidline/internal/db"
	"bidline/internal/engine"
	"bidline/internal/migrate"
)

// Workspace bundles everything a command needs to work on a bidline
// workspace directory.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Log    *zap.Logger
}

// Open prepares the workspace: database opened and migrated, bidline.yml
// loaded (defaults when absent) and the engine started.
func Open(ctx context.Context, dir string, log *zap.Logger) (*Workspace, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("workspace opened", zap.String("workspace", dir), zap.String("db", db.Path(dir)))
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, log),
		Log:    log,
	}, nil
}

// Close flushes queued changes and closes the database.
func (w *Workspace) Close(ctx context.Context) error {
	if w == nil {
		return nil
	}
	flushTimeout := w.Config.Journal.FlushTimeout.Std()
	if flushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	err := w.Engine.Close(ctx)
	if cerr := w.DB.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
