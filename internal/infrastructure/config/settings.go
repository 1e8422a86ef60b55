package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/remloop/internal/app/config"
)

// RawSettings represents the structure of the remloop.yaml file.
// Pointer fields distinguish "absent" from zero values so defaults only
// fill what the file and environment left unset.
type RawSettings struct {
	Home   *string `yaml:"home"`
	DBPath *string `yaml:"db_path"`

	LockDuration      *string `yaml:"lock_duration"`
	LockRenewInterval *string `yaml:"lock_renew_interval"`

	GracePeriod    *string `yaml:"grace_period"`
	ForceAttempts  *int    `yaml:"force_attempts"`
	DeletionVerify *string `yaml:"deletion_verify"`

	LabelRetries    *int    `yaml:"label_retries"`
	ReadyLabel      *string `yaml:"ready_label"`
	InProgressLabel *string `yaml:"in_progress_label"`

	BreakerThreshold *int    `yaml:"breaker_threshold"`
	BreakerCooldown  *string `yaml:"breaker_cooldown"`

	RecoveryInterval *string `yaml:"recovery_interval"`
	StuckThreshold   *string `yaml:"stuck_threshold"`

	SweepInterval *string `yaml:"sweep_interval"`
	Retention     *string `yaml:"retention"`

	CompressionThreshold *int `yaml:"compression_threshold"`

	GitHubToken *string `yaml:"github_token"`
	GitHubOwner *string `yaml:"github_owner"`
	GitHubRepo  *string `yaml:"github_repo"`

	EscalationsDir *string `yaml:"escalations_dir"`
	StderrLevel    *string `yaml:"stderr_level"`
}

// LoadSettings loads configuration for baseDir.
// Priority: remloop.yaml > REMLOOP_* environment > defaults.
func LoadSettings(baseDir string) (*config.AppConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	yamlPath := filepath.Join(baseDir, "remloop.yaml")
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", yamlPath, err)
		}
		configSource = "yaml"
		settingPath = yamlPath
	}

	if applyEnvOverrides(settings) && configSource == "default" {
		configSource = "env"
	}

	v := buildValues(settings, baseDir)
	v.ConfigSource = configSource
	v.SettingPath = settingPath
	return config.NewAppConfig(v), nil
}

// applyEnvOverrides fills unset fields from REMLOOP_* variables and
// reports whether any were present.
func applyEnvOverrides(s *RawSettings) bool {
	found := false
	str := func(key string, dst **string) {
		if v := os.Getenv(key); v != "" && *dst == nil {
			*dst = &v
			found = true
		}
	}
	num := func(key string, dst **int) {
		if v := os.Getenv(key); v != "" && *dst == nil {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = &n
				found = true
			}
		}
	}

	str("REMLOOP_HOME", &s.Home)
	str("REMLOOP_DB_PATH", &s.DBPath)
	str("REMLOOP_LOCK_DURATION", &s.LockDuration)
	str("REMLOOP_LOCK_RENEW_INTERVAL", &s.LockRenewInterval)
	str("REMLOOP_GRACE_PERIOD", &s.GracePeriod)
	num("REMLOOP_FORCE_ATTEMPTS", &s.ForceAttempts)
	str("REMLOOP_DELETION_VERIFY", &s.DeletionVerify)
	num("REMLOOP_LABEL_RETRIES", &s.LabelRetries)
	str("REMLOOP_READY_LABEL", &s.ReadyLabel)
	str("REMLOOP_IN_PROGRESS_LABEL", &s.InProgressLabel)
	num("REMLOOP_BREAKER_THRESHOLD", &s.BreakerThreshold)
	str("REMLOOP_BREAKER_COOLDOWN", &s.BreakerCooldown)
	str("REMLOOP_RECOVERY_INTERVAL", &s.RecoveryInterval)
	str("REMLOOP_STUCK_THRESHOLD", &s.StuckThreshold)
	str("REMLOOP_SWEEP_INTERVAL", &s.SweepInterval)
	str("REMLOOP_RETENTION", &s.Retention)
	num("REMLOOP_COMPRESSION_THRESHOLD", &s.CompressionThreshold)
	str("REMLOOP_GITHUB_TOKEN", &s.GitHubToken)
	str("REMLOOP_GITHUB_OWNER", &s.GitHubOwner)
	str("REMLOOP_GITHUB_REPO", &s.GitHubRepo)
	str("REMLOOP_ESCALATIONS_DIR", &s.EscalationsDir)
	str("REMLOOP_STDERR_LEVEL", &s.StderrLevel)
	return found
}

func buildValues(s *RawSettings, baseDir string) config.Values {
	home := strVal(s.Home, baseDir)
	return config.Values{
		Home:   home,
		DBPath: strVal(s.DBPath, filepath.Join(home, "var", "remloop.db")),

		LockDuration:      durVal(s.LockDuration, 30*time.Second),
		LockRenewInterval: durVal(s.LockRenewInterval, 10*time.Second),

		GracePeriod:    durVal(s.GracePeriod, 30*time.Second),
		ForceAttempts:  intVal(s.ForceAttempts, 3),
		DeletionVerify: durVal(s.DeletionVerify, 10*time.Second),

		LabelRetries:    intVal(s.LabelRetries, 5),
		ReadyLabel:      strVal(s.ReadyLabel, "ready-for-remediation"),
		InProgressLabel: strVal(s.InProgressLabel, "remediation-in-progress"),

		BreakerThreshold: intVal(s.BreakerThreshold, 5),
		BreakerCooldown:  durVal(s.BreakerCooldown, 30*time.Second),

		RecoveryInterval: durVal(s.RecoveryInterval, 30*time.Second),
		StuckThreshold:   durVal(s.StuckThreshold, 5*time.Minute),

		SweepInterval: durVal(s.SweepInterval, 6*time.Hour),
		Retention:     durVal(s.Retention, 7*24*time.Hour),

		CompressionThreshold: intVal(s.CompressionThreshold, 950*1024),

		GitHubToken: strVal(s.GitHubToken, os.Getenv("GITHUB_TOKEN")),
		GitHubOwner: strVal(s.GitHubOwner, ""),
		GitHubRepo:  strVal(s.GitHubRepo, ""),

		EscalationsDir: strVal(s.EscalationsDir, filepath.Join(home, "escalations")),
		StderrLevel:    strVal(s.StderrLevel, "info"),
	}
}

func strVal(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func intVal(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// durVal parses a duration string, accepting bare integers as seconds
func durVal(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	if d, err := time.ParseDuration(*p); err == nil {
		return d
	}
	if n, err := strconv.Atoi(*p); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
