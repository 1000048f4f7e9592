// Package runlog keeps a SQLite history of engine runs and the prompt
// events each run produced.
package runlog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"autoconsole/internal/logging"
	"autoconsole/internal/session"
)

const redacted = "********"

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

type RunInfo struct {
	Profile   string
	Domain    string
	Transport string
}

// Open opens (creating if needed) the run log at path and syncs its schema.
func Open(path string, lg *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("run log path is required")
	}
	gdb, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := syncSchema(gdb); err != nil {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &Store{db: gdb, logger: logging.OrDiscard(lg), now: time.Now}, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

func syncSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&Run{}, &RunEvent{}); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_id_id ON run_events(run_id, id);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Begin(ctx context.Context, info RunInfo) (string, error) {
	run := Run{
		RunID:     uuid.NewString(),
		Profile:   info.Profile,
		Domain:    info.Domain,
		Transport: info.Transport,
		Status:    StatusRunning,
		StartedAt: s.now().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", err
	}
	return run.RunID, nil
}

// Finish closes a run. A nil error or context.Canceled mean the run ended
// normally or was stopped; anything else marks it failed.
func (s *Store) Finish(ctx context.Context, runID string, runErr error) error {
	status, lastErr := StatusCompleted, ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = StatusStopped
	default:
		status, lastErr = StatusFailed, runErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&Run{}).Where("run_id = ?", runID).Updates(map[string]any{
		"status":     status,
		"ended_at":   s.now().UTC().Unix(),
		"last_error": lastErr,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) Get(runID string) (Run, error) {
	var run Run
	err := s.db.Where("run_id = ?", strings.TrimSpace(runID)).Take(&run).Error
	return run, err
}

// List returns the most recent runs first.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows := make([]Run, 0, limit)
	if err := s.db.Order("started_at DESC").Order("rowid DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Events returns a run's events in the order they were recorded.
func (s *Store) Events(runID string) ([]RunEvent, error) {
	rows := make([]RunEvent, 0)
	if err := s.db.Where("run_id = ?", strings.TrimSpace(runID)).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Recorder returns a session.Recorder that appends events to runID. Every
// non-empty secret is replaced in stored payloads. Write failures are logged.
func (s *Store) Recorder(runID string, secrets ...string) session.Recorder {
	pairs := make([]string, 0, 2*len(secrets))
	for _, secret := range secrets {
		if secret != "" {
			pairs = append(pairs, secret, redacted)
		}
	}
	replacer := strings.NewReplacer(pairs...)
	return session.RecorderFunc(func(ctx context.Context, ev session.Event) {
		at := ev.At
		if at.IsZero() {
			at = s.now()
		}
		row := RunEvent{
			RunID:     runID,
			Kind:      string(ev.Kind),
			Rule:      ev.Rule,
			Cursor:    ev.Cursor,
			Total:     ev.Total,
			Payload:   replacer.Replace(string(ev.Payload)),
			Flag:      ev.Flag,
			CreatedAt: at.UTC().UnixMilli(),
		}
		if err := s.db.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; err != nil {
			s.logger.Warn("record run event failed", "run_id", runID, "kind", ev.Kind, "error", err)
		}
	})
}
