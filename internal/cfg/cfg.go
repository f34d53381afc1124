package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the service-level settings that do not belong to a go-core
// component: HTTP surface, store selection, orchestrator tuning, rate
// limits, retention, and executor paths.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIKey                string
	DatabaseURL           string

	MaxAttempts            int
	BackoffBaseMS          int
	BackoffCapSeconds      int
	ExecutorTimeoutSeconds int
	MaxConcurrent          int

	GlobalRateLimit          int
	GlobalRateWindowSeconds  int
	PerHostRateLimit         int
	PerHostRateWindowSeconds int

	RetentionDays        int
	SweepIntervalMinutes int

	SlackWebhookURL string

	PlaybooksDir string
	InventoryDir string
	SSHUser      string
	WinRMUser    string
	Become       bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIKey, "api-key", "", "bearer key required on API requests (empty = auth disabled)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.IntVar(&c.MaxAttempts, "max-attempts", 5, "maximum restart attempts per job (1..20)")
	fs.IntVar(&c.BackoffBaseMS, "backoff-base-ms", 2000, "base retry delay in milliseconds (100..60000)")
	fs.IntVar(&c.BackoffCapSeconds, "backoff-cap-seconds", 30, "maximum retry delay in seconds (1..600)")
	fs.IntVar(&c.ExecutorTimeoutSeconds, "executor-timeout-seconds", 300, "per-attempt executor timeout in seconds (10..3600)")
	fs.IntVar(&c.MaxConcurrent, "max-concurrent", 5, "maximum concurrently running remediations (1..64)")

	fs.IntVar(&c.GlobalRateLimit, "global-rate-limit", 10, "submissions allowed per global window (0 = unlimited)")
	fs.IntVar(&c.GlobalRateWindowSeconds, "global-rate-window-seconds", 60, "global rate limit window in seconds (1..3600)")
	fs.IntVar(&c.PerHostRateLimit, "per-host-rate-limit", 1, "submissions allowed per host per window (0 = unlimited)")
	fs.IntVar(&c.PerHostRateWindowSeconds, "per-host-rate-window-seconds", 1800, "per-host rate limit window in seconds (1..86400)")

	fs.IntVar(&c.RetentionDays, "retention-days", 7, "days to keep terminal jobs before the sweeper prunes them (1..365)")
	fs.IntVar(&c.SweepIntervalMinutes, "sweep-interval-minutes", 60, "minutes between retention sweeps (1..1440)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for outcome notifications (empty = disabled)")

	fs.StringVar(&c.PlaybooksDir, "playbooks-dir", "/etc/remedy/playbooks", "directory holding restart_agent_*.yml playbooks")
	fs.StringVar(&c.InventoryDir, "inventory-dir", "/var/run/remedy/inventory", "directory for generated per-run inventory files")
	fs.StringVar(&c.SSHUser, "ssh-user", "ansible", "SSH user for linux and macos targets")
	fs.StringVar(&c.WinRMUser, "winrm-user", "", "WinRM user for windows targets")
	fs.BoolVar(&c.Become, "become", true, "use privilege escalation on ssh targets")
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

	// Orchestrator tuning
	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		errs = append(errs, fmt.Errorf("invalid MAX_ATTEMPTS %d (must be 1..20)", c.MaxAttempts))
	}
	if c.BackoffBaseMS < 100 || c.BackoffBaseMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid BACKOFF_BASE_MS %d (must be 100..60000)", c.BackoffBaseMS))
	}
	if c.BackoffCapSeconds < 1 || c.BackoffCapSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid BACKOFF_CAP_SECONDS %d (must be 1..600)", c.BackoffCapSeconds))
	}
	if c.ExecutorTimeoutSeconds < 10 || c.ExecutorTimeoutSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid EXECUTOR_TIMEOUT_SECONDS %d (must be 10..3600)", c.ExecutorTimeoutSeconds))
	}
	if c.MaxConcurrent < 1 || c.MaxConcurrent > 64 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENT %d (must be 1..64)", c.MaxConcurrent))
	}

	// Rate limits: zero disables a limiter, negative is a mistake
	if c.GlobalRateLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid GLOBAL_RATE_LIMIT %d (must be >= 0)", c.GlobalRateLimit))
	}
	if c.GlobalRateWindowSeconds < 1 || c.GlobalRateWindowSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid GLOBAL_RATE_WINDOW_SECONDS %d (must be 1..3600)", c.GlobalRateWindowSeconds))
	}
	if c.PerHostRateLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid PER_HOST_RATE_LIMIT %d (must be >= 0)", c.PerHostRateLimit))
	}
	if c.PerHostRateWindowSeconds < 1 || c.PerHostRateWindowSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid PER_HOST_RATE_WINDOW_SECONDS %d (must be 1..86400)", c.PerHostRateWindowSeconds))
	}

	// Retention
	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		errs = append(errs, fmt.Errorf("invalid RETENTION_DAYS %d (must be 1..365)", c.RetentionDays))
	}
	if c.SweepIntervalMinutes < 1 || c.SweepIntervalMinutes > 1440 {
		errs = append(errs, fmt.Errorf("invalid SWEEP_INTERVAL_MINUTES %d (must be 1..1440)", c.SweepIntervalMinutes))
	}

	// Executor paths are required; the executor cannot run without them
	if c.PlaybooksDir == "" {
		errs = append(errs, errors.New("PLAYBOOKS_DIR is required"))
	}
	if c.InventoryDir == "" {
		errs = append(errs, errors.New("INVENTORY_DIR is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
