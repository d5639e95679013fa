package gatekeeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// dbModels are migrated by CreateDB and on startup
func dbModels() []any {
	return []any{
		&Account{},
		&AuthEvent{},
		&ActionLog{},
	}
}

// DBI defines the interface for database write operations. [database]
// implements it for 'real' DB operations.
type DBI interface {
	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
}

// database wraps a gorm.DB, serializing writes unless concurrent
// writes are enabled (they are for postgres, not for sqlite).
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// withTimeout applies dbOperationTimeout to ctx when it has no deadline
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	unlock := d.lock()
	defer unlock()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	unlock := d.lock()
	defer unlock()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	unlock := d.lock()
	defer unlock()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type, and migrates the schema.
//
// Parameters:
//   - ctx: The context for the database operations.
//   - databaseType: The type of the database, must be 'sqlite' or 'postgres'.
//   - database: The database connection string, or SQLite file path.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(slog.LevelWarn)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}
	if err = migrate(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

// openDatabase opens the configured database, applies sqlite connection
// limits and pragmas, and migrates the schema.
func openDatabase(ctx context.Context, config *Config, logger *slog.Logger) (*gorm.DB, error) {
	gormLogger := newGORMLogger(
		newLogHandler(config.DatabaseLogLevel),
		config.DatabaseSlowThreshold,
	)
	db, err := getDB(config.DatabaseType, config.Database, gormLogger)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database connection: %w", err)
	}

	if config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	logger.DebugContext(ctx, "migrating database...")
	if err = migrate(ctx, db); err != nil {
		logger.ErrorContext(ctx, "error migrating database", tint.Err(err))
		return nil, err
	}
	logger.DebugContext(ctx, "finished migrating database")
	return db, nil
}

func migrate(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if err := txn.Migrator().AutoMigrate(dbModels()...); err != nil {
		txn.Rollback()
		return fmt.Errorf("error migrating database: %w", err)
	}
	if err := txn.Commit().Error; err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type.
//
// Parameters:
//   - databaseType: Must be 'sqlite' or 'postgres'
//   - database: Database connection string, or SQLite file path.
//   - gormLogger: A pointer to a gormStructuredLogger instance for
//     logging database operations.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
