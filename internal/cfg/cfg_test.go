package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:           60,
		ShutdownBudgetSeconds:  90,
		APIPort:                8080,
		UpstreamTimeoutSeconds: 30,
		SearchDebounceMillis:   450,
		SessionTTLSeconds:      1800,
		MaxSessions:            1024,
		ColumnFetchConcurrency: 8,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.SearchDebounceMillis != 450 {
		t.Errorf("SearchDebounceMillis = %d, want 450", c.SearchDebounceMillis)
	}
	if c.ColumnFetchConcurrency != 8 {
		t.Errorf("ColumnFetchConcurrency = %d, want 8", c.ColumnFetchConcurrency)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
	if c.Backend() != BackendMemory {
		t.Errorf("Backend() = %s, want %s", c.Backend(), BackendMemory)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-api-token", "tok",
		"-upstream-url", "https://station.example.com/v1",
		"-upstream-timeout-seconds", "5",
		"-search-debounce-ms", "200",
		"-session-ttl-seconds", "60",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.APIToken != "tok" {
		t.Errorf("APIToken = %q, want tok", c.APIToken)
	}
	if c.UpstreamTimeout() != 5*time.Second {
		t.Errorf("UpstreamTimeout() = %v, want 5s", c.UpstreamTimeout())
	}
	if c.SearchDebounce() != 200*time.Millisecond {
		t.Errorf("SearchDebounce() = %v, want 200ms", c.SearchDebounce())
	}
	if c.SessionTTL() != time.Minute {
		t.Errorf("SessionTTL() = %v, want 1m", c.SessionTTL())
	}
}

func TestBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		upstream string
		database string
		want     Backend
	}{
		{"nothing set", "", "", BackendMemory},
		{"database only", "", "postgres://localhost/rq", BackendPostgres},
		{"upstream only", "http://station", "", BackendUpstream},
		{"upstream wins over database", "http://station", "postgres://localhost/rq", BackendUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			c.UpstreamURL = tt.upstream
			c.DatabaseURL = tt.database
			if got := c.Backend(); got != tt.want {
				t.Errorf("Backend() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "minimum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.UpstreamTimeoutSeconds, c.SearchDebounceMillis, c.ColumnFetchConcurrency = 1, 1, 1
				c.SessionTTLSeconds, c.MaxSessions = 0, 0
			},
			wantErr: false,
		},
		{
			name: "maximum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.UpstreamTimeoutSeconds, c.SearchDebounceMillis, c.ColumnFetchConcurrency = 300, 10000, 64
			},
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			mutate:    func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			mutate:  func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 },
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget negative",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = -1 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 60 },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			mutate:  func(c *Config) { c.ShutdownBudgetSeconds = 61 },
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Upstream
		{
			name:    "https upstream",
			mutate:  func(c *Config) { c.UpstreamURL = "https://station.example.com/v1" },
			wantErr: false,
		},
		{
			name:      "relative upstream",
			mutate:    func(c *Config) { c.UpstreamURL = "/v1" },
			wantErr:   true,
			errSubstr: []string{"UPSTREAM_URL"},
		},
		{
			name:      "non-http upstream",
			mutate:    func(c *Config) { c.UpstreamURL = "ftp://station" },
			wantErr:   true,
			errSubstr: []string{"UPSTREAM_URL"},
		},
		{
			name:      "upstream timeout zero",
			mutate:    func(c *Config) { c.UpstreamTimeoutSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"UPSTREAM_TIMEOUT_SECONDS"},
		},
		// Board tuning
		{
			name:      "debounce zero",
			mutate:    func(c *Config) { c.SearchDebounceMillis = 0 },
			wantErr:   true,
			errSubstr: []string{"SEARCH_DEBOUNCE_MS"},
		},
		{
			name:      "negative ttl",
			mutate:    func(c *Config) { c.SessionTTLSeconds = -1 },
			wantErr:   true,
			errSubstr: []string{"SESSION_TTL_SECONDS"},
		},
		{
			name:      "negative max sessions",
			mutate:    func(c *Config) { c.MaxSessions = -1 },
			wantErr:   true,
			errSubstr: []string{"MAX_SESSIONS"},
		},
		{
			name:      "concurrency above max",
			mutate:    func(c *Config) { c.ColumnFetchConcurrency = 65 },
			wantErr:   true,
			errSubstr: []string{"COLUMN_FETCH_CONCURRENCY"},
		},
		{
			name:      "negative slow query threshold",
			mutate:    func(c *Config) { c.SlowQueryMillis = -1 },
			wantErr:   true,
			errSubstr: []string{"SLOW_QUERY_MS"},
		},
		// Error accumulation: zero value
		{
			name:    "all fields invalid",
			mutate:  func(c *Config) { *c = Config{} },
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"UPSTREAM_TIMEOUT_SECONDS", "SEARCH_DEBOUNCE_MS", "COLUMN_FETCH_CONCURRENCY",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, debounce, fetch int
	}{
		{60, 90, 8080, 450, 8},
		{1, 2, 1, 1, 1},
		{299, 300, 65535, 10000, 64},
		{0, 0, 0, 0, 0},
		{-1, -1, -1, -1, -1},
		{300, 300, 65535, 450, 8},
		{301, 302, 65536, 10001, 65},
		{150, 100, 8080, 450, 8},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.debounce, s.fetch)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, debounce, fetch int) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.SearchDebounceMillis = debounce
		c.ColumnFetchConcurrency = fetch
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		debounceOK := debounce >= 1 && debounce <= 10000
		fetchOK := fetch >= 1 && fetch <= 64

		allValid := drainOK && budgetOK && portOK && crossOK && debounceOK && fetchOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
