// Package querier executes validated, read-only SQL against PostgreSQL and
// returns rows in a form that survives JSON transport.
package querier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/askdb/pkg/sqlguard"
)

type Querier struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Querier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate querier config: %w", err)
	}
	return &Querier{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Row maps column name to a normalized value.
type Row map[string]any

// Result is the tagged outcome of Execute. Data is present iff Success,
// Error iff !Success.
type Result struct {
	Success bool
	Data    []Row
	Error   string
	Query   string
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"success": r.Success,
		"query":   r.Query,
	}
	if r.Success {
		data := r.Data
		if data == nil {
			data = []Row{}
		}
		out["data"] = data
	} else {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// Execute validates sql and runs it in a read-only transaction. Failures of
// any kind are reported in the Result; Execute never returns them otherwise.
func (q *Querier) Execute(ctx context.Context, sql string) Result {
	if v := sqlguard.Validate(sql); !v.Valid {
		q.log.Info("querier: query rejected", "reason", v.Error)
		return Result{Error: v.Error, Query: sql}
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := q.query(ctx, sql)
	duration := time.Since(start)
	if err != nil {
		q.log.Warn("querier: query failed", "duration", duration, "error", err)
		return Result{Error: err.Error(), Query: sql}
	}
	q.log.Debug("querier: query executed", "duration", duration, "rows", len(rows))

	return Result{Success: true, Data: rows, Query: sql}
}

func (q *Querier) query(ctx context.Context, sql string) ([]Row, error) {
	tx, err := q.cfg.DB.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", q.cfg.QueryTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := make([]Row, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Ping checks that the store is reachable.
func (q *Querier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.QueryTimeout)
	defer cancel()
	return q.cfg.DB.Ping(ctx)
}
