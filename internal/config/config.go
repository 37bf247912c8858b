// Package config loads application configuration from TOML with
// defaults for every section.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glosshq/glossgen/internal/estimator"
	"github.com/glosshq/glossgen/internal/guard"
	"github.com/glosshq/glossgen/internal/monitor"
	"github.com/glosshq/glossgen/internal/scheduler"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Engine        EngineConfig                   `toml:"engine"`
	Limits        guard.Limits                   `toml:"limits"`
	Monitor       MonitorConfig                  `toml:"monitor"`
	Storage       StorageConfig                  `toml:"storage"`
	Web           WebConfig                      `toml:"web"`
	Notifications NotificationsConfig            `toml:"notifications"`
	Intake        IntakeConfig                   `toml:"intake"`
	Models        map[string]estimator.ModelRate `toml:"models"`
}

// EngineConfig holds dispatch settings
type EngineConfig struct {
	TaskType              string `toml:"task_type"`
	GroupDelaySeconds     int    `toml:"group_delay_seconds"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
	BatchTimeoutMinutes   int    `toml:"batch_timeout_minutes"`
	OperationTimeoutHours int    `toml:"operation_timeout_hours"`
	MaxBatchSize          int    `toml:"max_batch_size"`
	QueueWorkers          int    `toml:"queue_workers"`
}

// MonitorConfig holds progress monitoring settings
type MonitorConfig struct {
	IntervalSeconds    int     `toml:"interval_seconds"`
	Milestones         []int   `toml:"milestones"`
	SlowRatePerMinute  float64 `toml:"slow_rate_per_minute"`
	ErrorRateThreshold float64 `toml:"error_rate_threshold"`
	CostOverrunFactor  float64 `toml:"cost_overrun_factor"`
	StaleAfterMinutes  int     `toml:"stale_after_minutes"`
	HistoryLimit       int     `toml:"history_limit"`
	MaxHistoryAgeDays  int     `toml:"max_history_age_days"`
	PurgeSchedule      string  `toml:"purge_schedule"`
}

// StorageConfig holds database paths
type StorageConfig struct {
	CatalogPath string `toml:"catalog_path"`
	LedgerPath  string `toml:"ledger_path"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// IntakeConfig holds request drop-directory settings
type IntakeConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Engine: EngineConfig{
			TaskType:              "content-generation",
			GroupDelaySeconds:     1,
			PollIntervalSeconds:   2,
			BatchTimeoutMinutes:   10,
			OperationTimeoutHours: 24,
			MaxBatchSize:          50,
			QueueWorkers:          4,
		},
		Limits: guard.DefaultLimits(),
		Monitor: MonitorConfig{
			IntervalSeconds:    30,
			Milestones:         []int{25, 50, 75, 90},
			SlowRatePerMinute:  5,
			ErrorRateThreshold: 0.10,
			CostOverrunFactor:  1.2,
			StaleAfterMinutes:  5,
			HistoryLimit:       200,
			MaxHistoryAgeDays:  7,
			PurgeSchedule:      "0 3 * * *",
		},
		Storage: StorageConfig{
			CatalogPath: filepath.Join(home, ".glossgen", "catalog.db"),
			LedgerPath:  filepath.Join(home, ".glossgen", "ledger.db"),
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Intake: IntakeConfig{
			Dir: filepath.Join(home, ".glossgen", "intake"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.Storage.CatalogPath = ExpandPath(cfg.Storage.CatalogPath)
	cfg.Storage.LedgerPath = ExpandPath(cfg.Storage.LedgerPath)
	cfg.Intake.Dir = ExpandPath(cfg.Intake.Dir)

	return cfg, nil
}

// SchedulerConfig maps the engine section onto scheduler settings
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		TaskType:         c.Engine.TaskType,
		GroupDelay:       time.Duration(c.Engine.GroupDelaySeconds) * time.Second,
		PollInterval:     time.Duration(c.Engine.PollIntervalSeconds) * time.Second,
		BatchTimeout:     time.Duration(c.Engine.BatchTimeoutMinutes) * time.Minute,
		OperationTimeout: time.Duration(c.Engine.OperationTimeoutHours) * time.Hour,
		MaxBatchSize:     c.Engine.MaxBatchSize,
	}
}

// MonitorOptions maps the monitor section onto monitor settings
func (c *Config) MonitorOptions() monitor.Options {
	return monitor.Options{
		Interval:           time.Duration(c.Monitor.IntervalSeconds) * time.Second,
		Milestones:         c.Monitor.Milestones,
		SlowRatePerMinute:  c.Monitor.SlowRatePerMinute,
		ErrorRateThreshold: c.Monitor.ErrorRateThreshold,
		CostOverrunFactor:  c.Monitor.CostOverrunFactor,
		StaleAfter:         time.Duration(c.Monitor.StaleAfterMinutes) * time.Minute,
		HistoryLimit:       c.Monitor.HistoryLimit,
		MaxHistoryAge:      time.Duration(c.Monitor.MaxHistoryAgeDays) * 24 * time.Hour,
		PurgeSchedule:      c.Monitor.PurgeSchedule,
	}
}

// ModelRates returns the configured rate table, falling back to the
// built-in one
func (c *Config) ModelRates() map[string]estimator.ModelRate {
	if len(c.Models) == 0 {
		return estimator.DefaultRates
	}
	return c.Models
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "glossgen", "config.toml")
}
