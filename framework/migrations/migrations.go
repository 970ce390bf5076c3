// Package migrations предоставляет обертку над goose для миграций схемы, встроенных в бинарник через embed.FS.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // регистрирует драйвер "pgx" для database/sql
	"github.com/pressly/goose/v3"
)

// goose хранит base FS и диалект в глобальном состоянии
var gooseMu sync.Mutex

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

// Source набор миграций: файловая система и директория внутри неё
type Source struct {
	FS      fs.FS
	Dir     string
	Dialect string
}

// OpenDB открывает database/sql соединение через pgx stdlib
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s Source) with(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dialect := s.Dialect
	if dialect == "" {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetBaseFS(s.FS)
	defer goose.SetBaseFS(nil)
	return fn()
}

// Up применяет все pending миграции
func (s Source) Up(ctx context.Context, db *sql.DB) error {
	return s.with(func() error {
		if err := goose.UpContext(ctx, db, s.Dir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// UpBy применяет не более steps pending миграций, steps <= 0 означает все
func (s Source) UpBy(ctx context.Context, db *sql.DB, steps int64) error {
	if steps <= 0 {
		return s.Up(ctx, db)
	}
	return s.with(func() error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			current = 0
		}
		all, err := goose.CollectMigrations(s.Dir, 0, goose.MaxVersion)
		if err != nil {
			return fmt.Errorf("failed to collect migrations: %w", err)
		}

		var pending []*goose.Migration
		for _, m := range all {
			if m.Version > current {
				pending = append(pending, m)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		target := pending[len(pending)-1].Version
		if int64(len(pending)) > steps {
			target = pending[steps-1].Version
		}
		if err := goose.UpToContext(ctx, db, s.Dir, target); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// Down откатывает последнюю миграцию
func (s Source) Down(ctx context.Context, db *sql.DB) error {
	return s.with(func() error {
		if err := goose.DownContext(ctx, db, s.Dir); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		return nil
	})
}

// Version возвращает текущую версию схемы
func (s Source) Version(ctx context.Context, db *sql.DB) (int64, error) {
	var version int64
	err := s.with(func() error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to get current version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

// Collect возвращает миграции источника в порядке версий, все со статусом pending
func (s Source) Collect() ([]MigrationStatus, error) {
	var out []MigrationStatus
	err := s.with(func() error {
		all, err := goose.CollectMigrations(s.Dir, 0, goose.MaxVersion)
		if err != nil {
			return fmt.Errorf("failed to collect migrations: %w", err)
		}
		for _, m := range all {
			out = append(out, MigrationStatus{Version: m.Version, Name: m.Source, Status: "pending"})
		}
		return nil
	})
	return out, err
}

// Status возвращает статус всех миграций с отметками о применении
func (s Source) Status(ctx context.Context, db *sql.DB) ([]MigrationStatus, error) {
	statuses, err := s.Collect()
	if err != nil {
		return nil, err
	}
	current, err := s.Version(ctx, db)
	if err != nil {
		return statuses, nil
	}

	for i := range statuses {
		if statuses[i].Version > current {
			continue
		}
		var appliedAt time.Time
		err := db.QueryRowContext(ctx,
			"SELECT tstamp FROM goose_db_version WHERE version_id = $1 AND is_applied = true ORDER BY tstamp DESC LIMIT 1",
			statuses[i].Version,
		).Scan(&appliedAt)
		if err == nil {
			statuses[i].AppliedAt = &appliedAt
			statuses[i].Status = "applied"
		}
	}
	return statuses, nil
}
