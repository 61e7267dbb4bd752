package store

import "time"

// Driver selects the relational backend
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string
	Driver  Driver

	Lite LiteConfig
	PG   PGConfig
}

// LiteConfig configures the embedded sqlite backend
type LiteConfig struct {
	// Path is the database file; ":memory:" opens a throwaway database
	Path string

	BusyTimeoutMs int // default 5000
	LogSQL        bool
	SlowQueryMs   int
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs:
	ConnectRetries int           // default 6 (63s(ish) max with exponential backoff)
	PingTimeout    time.Duration // default 5s
}
