// Package db holds the DuckDB connection used by query and GeoParquet
// layer sources.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// DefaultExtensions are loaded by the server.
var DefaultExtensions = []string{"spatial", "parquet"}

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir    string
	DBName     string
	Extensions []string
	Logger     *zap.Logger
}

// Open opens a new DuckDB connection and loads the configured extensions.
// Extensions that fail to load are logged and skipped.
func Open(cfg Config) (*sql.DB, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "browse"
		}
		dsn = filepath.Join(duckdbDir, name+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			log.Warn("duckdb extension not loaded", zap.String("extension", ext), zap.Error(err))
		}
	}
	return conn, nil
}

// Get returns the process-wide DuckDB connection, opening it on first use.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Lazy returns a function that opens the shared connection on first call,
// so processes that never run a query never start DuckDB.
func Lazy(cfg Config) func() (*sql.DB, error) {
	return func() (*sql.DB, error) {
		return Get(cfg)
	}
}

// Close closes the shared connection if it was opened.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}
