package server

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdb/pkg/agent"
	"github.com/malbeclabs/askdb/pkg/schema"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultReadyCacheTTL     = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxBodySize       = 64 << 10 // 64 KiB
	defaultWriteTimeout      = 10 * time.Second
	defaultPongWait          = 60 * time.Second
)

// Runner runs one question through the pipeline.
type Runner interface {
	Run(ctx context.Context, question string, sink agent.Sink) *agent.Result
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Engine Runner
	Store  Pinger
	Schema *schema.Descriptor

	// Optional configuration.
	Clock             clockwork.Clock
	APIKey            string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	ReadyCacheTTL     time.Duration
	ShutdownTimeout   time.Duration
	MaxBodySize       int64
	WriteTimeout      time.Duration
	PongWait          time.Duration
}

func (c *Config) Validate() error {
	if c.Engine == nil {
		return errors.New("engine is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Schema == nil || len(c.Schema.Tables) == 0 {
		return errors.New("schema is required")
	}

	// Optional configuration.
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ReadyCacheTTL <= 0 {
		c.ReadyCacheTTL = defaultReadyCacheTTL
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = defaultMaxBodySize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.HeartbeatInterval >= c.PongWait {
		return errors.New("heartbeat interval must be shorter than pong wait")
	}
	return nil
}
