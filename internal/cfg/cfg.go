package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Config adds reviewqueue-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds           int
	ShutdownBudgetSeconds  int
	APIPort                int
	APIToken               string
	DatabaseURL            string
	SlowQueryMillis        int
	UpstreamURL            string
	UpstreamToken          string
	UpstreamTimeoutSeconds int
	SeedFile               string
	SearchDebounceMillis   int
	SessionTTLSeconds      int
	MaxSessions            int
	ColumnFetchConcurrency int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the mirror store")
	fs.IntVar(&c.SlowQueryMillis, "slow-query-ms", 0, "only log queries slower than this many milliseconds (0 = log all)")
	fs.StringVar(&c.UpstreamURL, "upstream-url", "", "base URL of the upstream service-request API (takes precedence over database-url)")
	fs.StringVar(&c.UpstreamToken, "upstream-token", "", "bearer token sent to the upstream API")
	fs.IntVar(&c.UpstreamTimeoutSeconds, "upstream-timeout-seconds", 30, "per-request timeout for upstream calls (1..300)")
	fs.StringVar(&c.SeedFile, "seed-file", "", "YAML fixture for the in-memory store (empty = start empty)")
	fs.IntVar(&c.SearchDebounceMillis, "search-debounce-ms", 450, "idle milliseconds before a typed search term is committed (1..10000)")
	fs.IntVar(&c.SessionTTLSeconds, "session-ttl-seconds", 1800, "seconds an idle board session is kept mounted (0 = forever)")
	fs.IntVar(&c.MaxSessions, "max-sessions", 1024, "maximum mounted board sessions (0 = unbounded)")
	fs.IntVar(&c.ColumnFetchConcurrency, "column-fetch-concurrency", 8, "concurrent column reads per board render (1..64)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}

	// Upstream URL, when set, must be absolute http(s)
	if c.UpstreamURL != "" {
		u, err := url.Parse(c.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid UPSTREAM_URL %q (must be an absolute http or https URL)", c.UpstreamURL))
		}
	}
	if c.UpstreamTimeoutSeconds <= 0 || c.UpstreamTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid UPSTREAM_TIMEOUT_SECONDS %d (must be 1..300)", c.UpstreamTimeoutSeconds))
	}

	if c.SearchDebounceMillis <= 0 || c.SearchDebounceMillis > 10000 {
		errs = append(errs, fmt.Errorf("invalid SEARCH_DEBOUNCE_MS %d (must be 1..10000)", c.SearchDebounceMillis))
	}
	if c.SessionTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid SESSION_TTL_SECONDS %d (must be >= 0)", c.SessionTTLSeconds))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_SESSIONS %d (must be >= 0)", c.MaxSessions))
	}
	if c.ColumnFetchConcurrency <= 0 || c.ColumnFetchConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid COLUMN_FETCH_CONCURRENCY %d (must be 1..64)", c.ColumnFetchConcurrency))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Backend names which store the service reads and writes through.
type Backend string

const (
	BackendUpstream Backend = "upstream"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// Backend picks the store: upstream-url, then database-url, then the in-memory store.
func (c *Config) Backend() Backend {
	switch {
	case c.UpstreamURL != "":
		return BackendUpstream
	case c.DatabaseURL != "":
		return BackendPostgres
	}
	return BackendMemory
}

func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMillis) * time.Millisecond
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

func (c *Config) SlowQuery() time.Duration {
	return time.Duration(c.SlowQueryMillis) * time.Millisecond
}
