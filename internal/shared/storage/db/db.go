package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"filevault/internal/shared/telemetry"
)

// Pool sizes the connection pool. Any DB_* variable present in the
// environment overrides the preset it is applied to.
type Pool struct {
	MaxOpen     int           `env:"DB_MAX_OPEN_CONNS"`
	MaxIdle     int           `env:"DB_MAX_IDLE_CONNS"`
	MaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"`
	MaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME"`
	PingTimeout time.Duration `env:"DB_PING_TIMEOUT"`
}

var (
	openDB = sql.Open

	sharedMu sync.Mutex
	sharedDB *sql.DB
)

// InLambda reports whether the process runs inside AWS Lambda.
func InLambda() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// LambdaPool keeps each function instance to a couple of connections.
func LambdaPool() Pool {
	return Pool{MaxOpen: 2, MaxIdle: 1, MaxLifetime: 15 * time.Minute, MaxIdleTime: 30 * time.Second, PingTimeout: 3 * time.Second}
}

// ServerPool suits the long-running API and worker processes.
func ServerPool() Pool {
	return Pool{MaxOpen: 10, MaxIdle: 5, MaxLifetime: time.Hour, MaxIdleTime: 2 * time.Minute, PingTimeout: 5 * time.Second}
}

// CLIPool is a single connection for vaultctl.
func CLIPool() Pool {
	return Pool{MaxOpen: 1, MaxIdle: 1, MaxLifetime: time.Hour, MaxIdleTime: 2 * time.Minute, PingTimeout: 5 * time.Second}
}

// PoolFromEnv applies DB_* overrides on top of preset.
func PoolFromEnv(preset Pool) Pool {
	pool := preset
	if err := cleanenv.ReadEnv(&pool); err != nil {
		telemetry.Warn("db.pool_env_invalid", map[string]any{"error": err.Error()})
		return preset
	}
	return pool
}

// Open connects to Postgres and pings it before returning.
func Open(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	database, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.apply(database)

	timeout := pool.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := database.Stats()
	telemetry.Info("db.opened", map[string]any{
		"max_open": stats.MaxOpenConnections,
		"open":     stats.OpenConnections,
		"idle":     stats.Idle,
	})
	return database, nil
}

// Shared returns one handle per process so warm Lambda invocations reuse
// their pool. A failed attempt is not cached.
func Shared(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedDB != nil {
		return sharedDB, nil
	}
	database, err := Open(ctx, databaseURL, pool)
	if err != nil {
		return nil, err
	}
	sharedDB = database
	return sharedDB, nil
}

func (p Pool) apply(database *sql.DB) {
	if p.MaxOpen <= 0 {
		p.MaxOpen = 10
	}
	if p.MaxIdle <= 0 {
		p.MaxIdle = 5
	}
	if p.MaxLifetime <= 0 {
		p.MaxLifetime = time.Hour
	}
	database.SetMaxOpenConns(p.MaxOpen)
	database.SetMaxIdleConns(p.MaxIdle)
	database.SetConnMaxLifetime(p.MaxLifetime)
	if p.MaxIdleTime > 0 {
		database.SetConnMaxIdleTime(p.MaxIdleTime)
	}
}
