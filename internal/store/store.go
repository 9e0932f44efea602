package store

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cycoslave/ratbox-services-sub000/internal/retry"
)

// Driver selects the underlying SQL engine. Named so `database { }`
// config blocks (spec §6) can select one at runtime without the rest
// of the core caring which engine is live.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

// Config describes how to reach the database.
type Config struct {
	Driver Driver
	DSN    string
}

// Store wraps a *gorm.DB with the reconnect-on-failure policy spec §7.2
// requires ("database disconnects trigger a bounded reconnect loop
// (≤30s total)").
type Store struct {
	cfg Config
	db  *gorm.DB
}

// Open connects to the configured database, retrying internally for
// up to 30s (spec §5's suspension-point bound) before giving up.
func Open(cfg Config) (*Store, error) {
	s := &Store{cfg: cfg}
	if err := s.reconnect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) dialector() (gorm.Dialector, error) {
	switch s.cfg.Driver {
	case DriverSQLite:
		return sqlite.Open(s.cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(s.cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(s.cfg.DSN), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", s.cfg.Driver)
	}
}

func (s *Store) reconnect() error {
	return retry.Poll(func() error {
		dial, err := s.dialector()
		if err != nil {
			return err
		}
		db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return fmt.Errorf("store: connect: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("store: ping: %w", err)
		}
		s.db = db
		return nil
	}, retry.DefaultOptions())
}

// Migrate ensures every table in AllModels exists.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// DB exposes the raw handle for packages (dbhook, account, access,
// kline) that need GORM query builders directly rather than going
// through a narrower method here. Kept deliberately thin: the
// persistence gateway's job is connection lifecycle and transaction
// framing, not hiding GORM behind a bespoke query language.
func (s *Store) DB() *gorm.DB { return s.db }

// WithTransaction runs fn inside a single START TRANSACTION / COMMIT
// frame (spec §5 "multi-statement work is wrapped in an explicit
// START TRANSACTION/COMMIT pair"). A reconnect is attempted once if
// the underlying connection appears to be gone before the transaction
// is opened.
func (s *Store) WithTransaction(fn func(tx *gorm.DB) error) error {
	if err := s.ensureAlive(); err != nil {
		return err
	}
	return s.db.Transaction(fn)
}

func (s *Store) ensureAlive() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return s.reconnect()
	}
	if err := sqlDB.Ping(); err != nil {
		return s.reconnect()
	}
	return nil
}

// Now is the gateway's notion of "now" in epoch seconds, matching the
// time_t fields throughout the schema (spec §6).
func Now() int64 { return time.Now().Unix() }
