package config

import "time"

// Config provides read-only access to application configuration.
// This interface abstracts the configuration source (YAML, ENV, defaults)
// and ensures the app layer doesn't depend on infrastructure details.
type Config interface {
	// Core settings
	Home() string   // Base directory for remloop (REMLOOP_HOME)
	DBPath() string // SQLite database path (REMLOOP_DB_PATH)

	// Distributed lock
	LockDuration() time.Duration      // Lease duration (REMLOOP_LOCK_DURATION)
	LockRenewInterval() time.Duration // Renewal period (REMLOOP_LOCK_RENEW_INTERVAL)

	// Cancellation
	GracePeriod() time.Duration    // Graceful-termination wait per job
	ForceAttempts() int            // Max forced-delete attempts per job
	DeletionVerify() time.Duration // Post-delete absence verification window

	// Label transitions
	LabelRetries() int       // Max attempts per transition batch
	ReadyLabel() string      // Removed when remediation starts
	InProgressLabel() string // Added when remediation starts

	// Circuit breaker
	BreakerThreshold() int          // Consecutive failures before opening
	BreakerCooldown() time.Duration // Open-to-half-open interval

	// Recovery
	RecoveryInterval() time.Duration // Reconciliation period
	StuckThreshold() time.Duration   // In-progress age treated as stuck

	// Retention sweep
	SweepInterval() time.Duration // Sweep period
	Retention() time.Duration     // Record age before removal

	// State documents
	CompressionThreshold() int // Serialized size triggering feedback compression

	// GitHub (empty token selects the local label store)
	GitHubToken() string
	GitHubOwner() string
	GitHubRepo() string

	// Paths and logging
	EscalationsDir() string // Escalation note sink
	StderrLevel() string    // Stderr log level (REMLOOP_STDERR_LEVEL)

	// Metadata
	ConfigSource() string // Source of configuration: "yaml", "env", or "default"
	SettingPath() string  // Path to remloop.yaml if loaded from file
}

// Values holds the merged configuration used to build an AppConfig.
type Values struct {
	Home   string
	DBPath string

	LockDuration      time.Duration
	LockRenewInterval time.Duration

	GracePeriod    time.Duration
	ForceAttempts  int
	DeletionVerify time.Duration

	LabelRetries    int
	ReadyLabel      string
	InProgressLabel string

	BreakerThreshold int
	BreakerCooldown  time.Duration

	RecoveryInterval time.Duration
	StuckThreshold   time.Duration

	SweepInterval time.Duration
	Retention     time.Duration

	CompressionThreshold int

	GitHubToken string
	GitHubOwner string
	GitHubRepo  string

	EscalationsDir string
	StderrLevel    string

	ConfigSource string
	SettingPath  string
}

// AppConfig is the concrete implementation of Config interface.
type AppConfig struct {
	v Values
}

// NewAppConfig creates a new AppConfig with the given values.
// This is typically called by the infrastructure layer after loading and
// merging configurations.
func NewAppConfig(v Values) *AppConfig {
	return &AppConfig{v: v}
}

func (c *AppConfig) Home() string                     { return c.v.Home }
func (c *AppConfig) DBPath() string                   { return c.v.DBPath }
func (c *AppConfig) LockDuration() time.Duration      { return c.v.LockDuration }
func (c *AppConfig) LockRenewInterval() time.Duration { return c.v.LockRenewInterval }
func (c *AppConfig) GracePeriod() time.Duration       { return c.v.GracePeriod }
func (c *AppConfig) ForceAttempts() int               { return c.v.ForceAttempts }
func (c *AppConfig) DeletionVerify() time.Duration    { return c.v.DeletionVerify }
func (c *AppConfig) LabelRetries() int                { return c.v.LabelRetries }
func (c *AppConfig) ReadyLabel() string               { return c.v.ReadyLabel }
func (c *AppConfig) InProgressLabel() string          { return c.v.InProgressLabel }
func (c *AppConfig) BreakerThreshold() int            { return c.v.BreakerThreshold }
func (c *AppConfig) BreakerCooldown() time.Duration   { return c.v.BreakerCooldown }
func (c *AppConfig) RecoveryInterval() time.Duration  { return c.v.RecoveryInterval }
func (c *AppConfig) StuckThreshold() time.Duration    { return c.v.StuckThreshold }
func (c *AppConfig) SweepInterval() time.Duration     { return c.v.SweepInterval }
func (c *AppConfig) Retention() time.Duration         { return c.v.Retention }
func (c *AppConfig) CompressionThreshold() int        { return c.v.CompressionThreshold }
func (c *AppConfig) GitHubToken() string              { return c.v.GitHubToken }
func (c *AppConfig) GitHubOwner() string              { return c.v.GitHubOwner }
func (c *AppConfig) GitHubRepo() string               { return c.v.GitHubRepo }
func (c *AppConfig) EscalationsDir() string           { return c.v.EscalationsDir }
func (c *AppConfig) StderrLevel() string              { return c.v.StderrLevel }
func (c *AppConfig) ConfigSource() string             { return c.v.ConfigSource }
func (c *AppConfig) SettingPath() string              { return c.v.SettingPath }
