package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

type Config struct {
	DBPath     string          `koanf:"db_path"`
	SocketPath string          `koanf:"socket_path"`
	Timezone   string          `koanf:"timezone"`
	AllDayHour int             `koanf:"all_day_hour"`
	Rules      []string        `koanf:"rules"`
	Sync       SyncConfig      `koanf:"sync"`
	Scheduler  SchedulerConfig `koanf:"scheduler"`
	ICS        []ICSConfig     `koanf:"ics"`
	Notify     NotifyConfig    `koanf:"notify"`
}

// SyncConfig controls the reconciliation pass.
type SyncConfig struct {
	// Cron is a standard 5-field cron spec for how often a sync pass runs.
	Cron string `koanf:"cron"`
	// WindowDays is how far ahead occurrences are fetched, from now.
	WindowDays int `koanf:"window_days"`
	// RetireCustom also cancels custom reminders when their occurrence
	// disappears from the sync window. Explicit drop always cancels both.
	RetireCustom bool `koanf:"retire_custom"`
	// FetchTimeout bounds the calendar fetch, in seconds.
	FetchTimeout int `koanf:"fetch_timeout"`
}

type SchedulerConfig struct {
	// PollInterval is the loop tick period in seconds.
	PollInterval int `koanf:"poll_interval"`
	// SpawnThrottle is the minimum gap between two notification spawns,
	// in seconds.
	SpawnThrottle int `koanf:"spawn_throttle"`
}

// ICSConfig describes a single ICS subscription feed.
type ICSConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
	URL  string `koanf:"url"`
}

type NotifyConfig struct {
	// Command is the terminal spawn template on non-darwin platforms.
	// "{cmd}" is replaced with the show-reminder invocation.
	Command string `koanf:"command"`
	// CtlPath is the remindctl binary invoked inside the spawned terminal.
	CtlPath string `koanf:"ctl_path"`
	// Sound is an optional sound file played before spawning.
	Sound string `koanf:"sound"`
	// Timeout bounds the spawn command, in seconds.
	Timeout int `koanf:"timeout"`
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = expandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider("REMINDD_", ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.Notify.Sound = expandPath(cfg.Notify.Sound)

	return &cfg, nil
}

// envKeyMapper maps REMINDD_SYNC_WINDOW_DAYS -> sync.window_days and
// REMINDD_DB_PATH -> db_path. Only the known section prefixes introduce
// a nesting dot; everything else keeps its underscores.
func envKeyMapper(s string) string {
	s = s[len("REMINDD_"):]
	out := make([]byte, 0, len(s))
	dotted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == '_' && !dotted {
			switch string(out) {
			case "sync", "scheduler", "notify":
				out = append(out, '.')
				dotted = true
				continue
			}
		}
		out = append(out, c)
	}
	return string(out)
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.AllDayHour < 0 || c.AllDayHour > 23 {
		return fmt.Errorf("all_day_hour must be between 0 and 23")
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("at least one rule must be enabled")
	}
	if c.Sync.WindowDays <= 0 {
		return fmt.Errorf("sync.window_days must be positive")
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive")
	}
	if _, err := cron.ParseStandard(c.Sync.Cron); err != nil {
		return fmt.Errorf("invalid sync.cron %q: %w", c.Sync.Cron, err)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.SpawnThrottle < 0 {
		return fmt.Errorf("scheduler.spawn_throttle must not be negative")
	}
	return nil
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
