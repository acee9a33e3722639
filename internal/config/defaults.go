package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"db_path":      "~/.remindd/remind.db",
		"socket_path":  "/tmp/remindd.sock",
		"timezone":     "", // empty means system local time
		"all_day_hour": 9,
		"rules":        []string{"week_before", "day_before", "six_am", "minus_30m"},
		"sync": map[string]interface{}{
			"cron":          "*/1 * * * *",
			"window_days":   30,
			"retire_custom": false,
			"fetch_timeout": 30,
		},
		"scheduler": map[string]interface{}{
			"poll_interval":  5,
			"spawn_throttle": 10,
		},
		"ics": []map[string]interface{}{},
		"notify": map[string]interface{}{
			"command":  "",
			"ctl_path": "remindctl",
			"sound":    "",
			"timeout":  10,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.remindd/config.yaml"
}
