package querier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultQueryTimeout = 15 * time.Second

// DB is the subset of *pgxpool.Pool the querier needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Logger *slog.Logger
	DB     DB

	// Optional with defaults.
	QueryTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must be > 0")
	}
	return nil
}
