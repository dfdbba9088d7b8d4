package run

import (
	"fmt"
	"time"
)

// DatastoreConfig defines the configuration of the datastore the sync
// records are persisted in.
type DatastoreConfig struct {
	// Engine is the datastore engine: 'memory', 'sqlite' or 'postgres'.
	Engine string `mapstructure:"engine"`
	URI    string `mapstructure:"uri"`

	// MetricsEnabled exports database/sql pool stats on the metrics endpoint.
	MetricsEnabled bool `mapstructure:"metricsEnabled"`
}

// StoreConfig defines how to reach the remote relationship store.
type StoreConfig struct {
	// Engine selects the store client: 'grpc' for a store speaking the
	// authzed v1 API, 'memory' for the embedded in-process store.
	Engine string `mapstructure:"engine"`

	// Addr is the host:port of the store's gRPC endpoint.
	Addr string `mapstructure:"addr"`

	// Token is an optional preshared key sent as a bearer token.
	Token string `mapstructure:"token"`

	// CallTimeout bounds each store RPC.
	CallTimeout time.Duration `mapstructure:"callTimeout"`
}

type SyncConfig struct {
	// MaxConcurrent bounds how many domain objects sync at once.
	MaxConcurrent int `mapstructure:"maxConcurrent"`

	// MaxTuplesPerWrite caps the batch size of one store write.
	MaxTuplesPerWrite int `mapstructure:"maxTuplesPerWrite"`

	// MaxRetries caps retries per batch on transient store failures.
	MaxRetries uint64 `mapstructure:"maxRetries"`
}

type ReconcileConfig struct {
	// Interval is the period between drift sweeps. Zero disables periodic
	// sweeps; the admin endpoint can still force one.
	Interval time.Duration `mapstructure:"interval"`

	// Parallelism bounds concurrent object reconciliations per sweep.
	Parallelism int `mapstructure:"parallelism"`
}

type LogConfig struct {
	// Format is the log output format, 'text' or 'json'.
	Format string `mapstructure:"format"`

	// Level is the minimum log level: 'none', 'debug', 'info', 'warn',
	// 'error', 'panic', 'fatal'.
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	// Enabled exposes prometheus metrics on the '/metrics' endpoint.
	Enabled bool `mapstructure:"enabled"`

	// Addr is the host:port address to serve the metrics server on.
	Addr string `mapstructure:"addr"`
}

type AdminConfig struct {
	// Addr is the host:port address of the admin HTTP server, serving
	// change notification and forced reconciliation endpoints.
	Addr string `mapstructure:"addr"`
}

type Config struct {
	// StateFile is an optional JSON snapshot of relational RBAC state to
	// seed the embedded state reader with.
	StateFile string `mapstructure:"stateFile"`

	Datastore DatastoreConfig `mapstructure:"datastore"`
	Store     StoreConfig     `mapstructure:"store"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// Verify checks the config is usable before anything is wired up.
func (c *Config) Verify() error {
	switch c.Datastore.Engine {
	case "memory":
	case "sqlite", "postgres":
		if c.Datastore.URI == "" {
			return fmt.Errorf("config 'datastore.uri' is required for engine %q", c.Datastore.Engine)
		}
	default:
		return fmt.Errorf("config 'datastore.engine' must be one of ['memory', 'sqlite', 'postgres']")
	}

	switch c.Store.Engine {
	case "memory":
	case "grpc":
		if c.Store.Addr == "" {
			return fmt.Errorf("config 'store.addr' is required for the grpc store")
		}
	default:
		return fmt.Errorf("config 'store.engine' must be one of ['memory', 'grpc']")
	}

	if c.Sync.MaxTuplesPerWrite <= 0 {
		return fmt.Errorf("config 'sync.maxTuplesPerWrite' must be a positive integer")
	}
	if c.Sync.MaxConcurrent <= 0 {
		return fmt.Errorf("config 'sync.maxConcurrent' must be a positive integer")
	}
	if c.Reconcile.Parallelism <= 0 {
		return fmt.Errorf("config 'reconcile.parallelism' must be a positive integer")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("config 'reconcile.interval' must not be negative")
	}

	return nil
}

// DefaultConfig is the config the run command starts from before layering
// config file, env and flag values on top.
func DefaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Engine: "memory",
		},
		Store: StoreConfig{
			Engine:      "grpc",
			Addr:        "localhost:50051",
			CallTimeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			MaxConcurrent:     8,
			MaxTuplesPerWrite: 100,
			MaxRetries:        5,
		},
		Reconcile: ReconcileConfig{
			Interval:    10 * time.Minute,
			Parallelism: 8,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
		Admin: AdminConfig{
			Addr: "0.0.0.0:8080",
		},
	}
}
