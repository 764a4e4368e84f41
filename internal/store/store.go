// Package store provides unified access to the medication database
// (SQLite) and the adherence ledger's key-value store (BadgerDB).
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pilltrail/pilltrail/internal/config"
	apperrors "github.com/pilltrail/pilltrail/internal/errors"
)

// KV is the persistence capability the adherence ledger needs: a
// crash-consistent per-key byte store. Get returns (nil, nil) when the
// key has never been written.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Store provides unified access to SQLite and BadgerDB
type Store struct {
	db     *gorm.DB
	badger *badger.DB
	config *config.StorageConfig
}

// New creates a new Store instance
func New(cfg *config.Config) (*Store, error) {
	db, err := openSQLite(&cfg.Storage)
	if err != nil {
		return nil, apperrors.Wrap(err, "STORE_001", "failed to open store")
	}

	badgerDB, err := openBadger(&cfg.Storage)
	if err != nil {
		return nil, apperrors.Wrap(err, "STORE_001", "failed to open store")
	}

	return &Store{
		db:     db,
		badger: badgerDB,
		config: &cfg.Storage,
	}, nil
}

// NewInMemory creates a Store backed entirely by memory, for tests.
func NewInMemory() (*Store, error) {
	cfg := &config.StorageConfig{InMemory: true}

	db, err := openSQLite(cfg)
	if err != nil {
		return nil, err
	}

	badgerDB, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, badger: badgerDB, config: cfg}, nil
}

func openSQLite(cfg *config.StorageConfig) (*gorm.DB, error) {
	dsn := cfg.SQLitePath
	if cfg.InMemory {
		dsn = ":memory:"
	} else if dsn == "" {
		dsn = filepath.Join(cfg.DataDir, "pilltrail.db")
	}

	sqliteDB, err := sql.Open("sqlite", dsn+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	return db, nil
}

func openBadger(cfg *config.StorageConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := cfg.BadgerPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "ledger")
		}
		opts = badger.DefaultOptions(path).
			WithNumVersionsToKeep(1).
			WithCompactL0OnClose(true).
			WithValueLogFileSize(16 << 20).
			WithMemTableSize(16 << 20)
	}
	opts = opts.WithLogger(nil)

	badgerDB, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return badgerDB, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	return s.badger.Close()
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Get retrieves a value by key. Missing keys yield (nil, nil): absent
// persisted state is treated as empty state, never an error.
func (s *Store) Get(key string) ([]byte, error) {
	var val []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("kv:" + key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte{}, v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return val, err
}

// Set stores a key-value pair
func (s *Store) Set(key string, value []byte) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("kv:"+key), value)
	})
}

// DeletePrefix removes every key under the given prefix. Used by the
// bulk data reset.
func (s *Store) DeletePrefix(prefix string) error {
	fullPrefix := []byte("kv:" + prefix)
	return s.badger.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListKeys returns every stored key under the given prefix, stripped of
// the prefix namespace.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	fullPrefix := []byte("kv:" + prefix)
	var keys []string
	err := s.badger.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len("kv:"):]))
		}
		return nil
	})
	return keys, err
}
