// Package sqlstore implements the storage interfaces on a SQL database
// through gorm. The bundled dialect is SQLite.
package sqlstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/types"
)

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionRepo)(nil)
var _ types.EventStore = (*EventRepo)(nil)
var _ types.PatternStore = (*PatternRepo)(nil)
var _ types.ModelStore = (*ModelRepo)(nil)

// DB owns the gorm handle and hands out repositories sharing it.
type DB struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to the SQLite database at dsn and migrates the schema.
// A plain file path has its parent directory created first.
func Open(dsn string, log *zap.Logger) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("sqlstore: empty dsn")
	}
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sessionRow{}, &eventRow{}, &patternRow{}, &modelRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Info("sql store ready", zap.String("dsn", dsn))
	return &DB{db: db, log: log}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Gorm exposes the handle for callers that need a transaction.
func (d *DB) Gorm() *gorm.DB { return d.db }

func (d *DB) Sessions() *SessionRepo { return NewSessionRepo(d.db, d.log) }
func (d *DB) Events() *EventRepo     { return NewEventRepo(d.db, d.log) }
func (d *DB) Patterns() *PatternRepo { return NewPatternRepo(d.db, d.log) }
func (d *DB) Models() *ModelRepo     { return NewModelRepo(d.db, d.log) }

// storageErr maps a gorm error onto the error taxonomy.
func storageErr(op, kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Missing(kind, id)
	}
	return apperr.Storage(op, err)
}

// pick returns tx when set so repo calls can join a caller's transaction.
func pick(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}
