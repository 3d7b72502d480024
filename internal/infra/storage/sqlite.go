package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"comptoir/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tunes the SQLite connection pool.
type Options struct {
	// MaxOpenConns bounds concurrent connections. SQLite admits one writer
	// at a time; with more than one connection a busy writer surfaces as
	// ErrContention instead of queueing in the pool.
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DefaultOptions serializes writers through a single pooled connection.
func DefaultOptions() Options {
	return Options{MaxOpenConns: 1, BusyTimeout: 5 * time.Second}
}

// Storage is the gorm-backed persistence for the ledger.
type Storage struct {
	db *gorm.DB
}

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&domain.Marketplace{},
		&domain.Collection{},
		&domain.SellOrder{},
		&domain.BuyOffer{},
		&domain.Account{},
		&domain.CollectionIcon{},
		&EventRecord{},
	}
}

// NewStorage opens (and migrates) the SQLite database at dbPath.
// An empty path resolves to the per-user config directory.
func NewStorage(dbPath string, opts Options) (*Storage, error) {
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		dbPath, opts.BusyTimeout.Milliseconds())

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	// Auto Migration
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// newGormLogger sends gorm warnings through the default slog handler.
// Missing rows are a normal lookup result here, not a warning.
func newGormLogger() logger.Interface {
	return logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "Comptoir", "data", "comptoir.db"), nil
}

// ======================================================================================
// Unit of Work
// ======================================================================================

// Atomic runs fn inside one database transaction. Any error returned by fn
// rolls back every write fn made; the error is returned unchanged except for
// SQLite lock failures, which become ErrContention.
func (s *Storage) Atomic(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db})
	})
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", domain.NewContentionError("database"), err)
	}
	return err
}

// View returns a handle for reads outside any transaction.
func (s *Storage) View(ctx context.Context) *Tx {
	return &Tx{db: s.db.WithContext(ctx)}
}

func isBusy(err error) bool {
	if errors.Is(err, domain.ErrContention) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Tx is a handle bound to one unit of work.
type Tx struct {
	db *gorm.DB
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotInitialized, kind, id)
	}
	return err
}
