package querier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultConnectDeadline = time.Minute
)

// Connect opens a pgx pool for connString and pings it, retrying with
// exponential backoff for up to a minute while the store comes up. Sessions
// default to read-only transactions.
func Connect(ctx context.Context, log *slog.Logger, connString string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "askdb"
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	log.Info("querier: connecting to postgres",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
		"user", poolConfig.ConnConfig.User)

	attempt := 0
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		attempt++
		if attempt > 1 {
			log.Warn("querier: failed to connect to postgres, retrying", "attempt", attempt)
		}

		connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()

		pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(connectCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(defaultConnectDeadline))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	log.Info("querier: connected to postgres")
	return pool, nil
}
