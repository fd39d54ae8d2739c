package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/lendwatch/internal/metrics"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Session writes are one small upsert per poll attempt, so a modest pool serves many
// concurrent sessions.
const (
	defaultMaxConns  = 10
	defaultIdleConns = 2

	poolSampleInterval = 15 * time.Second
)

// pool is the resolved connection pool shape for a Config.
type pool struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

func (c Config) pool() pool {
	p := pool{
		maxOpen:     defaultMaxConns,
		maxIdle:     defaultIdleConns,
		maxLifetime: time.Hour,
		maxIdleTime: 30 * time.Minute,
	}
	if c.MaxConns > 0 {
		p.maxOpen = c.MaxConns
	}
	if c.MinConns > 0 {
		p.maxIdle = c.MinConns
	}
	// database/sql trims idle connections above the open limit anyway.
	p.maxIdle = min(p.maxIdle, p.maxOpen)
	return p
}

// DB is the session store's connection pool.
type DB struct {
	*sqlx.DB
}

// NewDB opens the pool through the pgx driver and pings it before returning.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	p := cfg.pool()
	db.SetMaxOpenConns(p.maxOpen)
	db.SetMaxIdleConns(p.maxIdle)
	db.SetConnMaxLifetime(p.maxLifetime)
	db.SetConnMaxIdleTime(p.maxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Wrap adapts an existing sqlx handle.
func Wrap(db *sqlx.DB) *DB {
	return &DB{DB: db}
}

// StartMetricsCollector samples pool usage into the lendwatch_db_connection_pool_usage_percent gauge
// until ctx is done.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(poolSampleInterval)
		defer ticker.Stop()

		db.recordPoolUsage()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.recordPoolUsage()
			}
		}
	}()
}

func (db *DB) recordPoolUsage() {
	stats := db.Stats()
	if usage, ok := poolUsage(stats.OpenConnections, stats.MaxOpenConnections); ok {
		metrics.DBConnectionPoolUsage.Set(usage)
	}
}

// poolUsage is open/max as a percentage. An unbounded pool has no usage.
func poolUsage(open, limit int) (float64, bool) {
	if limit <= 0 {
		return 0, false
	}
	return float64(open) / float64(limit) * 100, true
}

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
