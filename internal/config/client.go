// AngelaMos | 2026
// client.go

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ClientConfig configures the client core and the creditctl binary.
type ClientConfig struct {
	BaseURL          string        `koanf:"base_url"`
	SessionFile      string        `koanf:"session_file"`
	AssumedDailyRate int64         `koanf:"assumed_daily_rate"`
	Timeout          time.Duration `koanf:"timeout"`
	Log              LogConfig     `koanf:"log"`
}

var clientDefaults = map[string]any{
	"base_url":           "http://localhost:8080/v1",
	"assumed_daily_rate": 5000,
	"timeout":            "15s",
	"log.level":          "warn",
	"log.format":         "text",
}

var clientEnvKeyMap = map[string]string{
	"CREDITCTL_BASE_URL":           "base_url",
	"CREDITCTL_SESSION_FILE":       "session_file",
	"CREDITCTL_ASSUMED_DAILY_RATE": "assumed_daily_rate",
	"CREDITCTL_TIMEOUT":            "timeout",
	"CREDITCTL_LOG_LEVEL":          "log.level",
	"CREDITCTL_LOG_FORMAT":         "log.format",
}

func clientEnvKeyReplacer(s string) string {
	if mapped, ok := clientEnvKeyMap[s]; ok {
		return mapped
	}
	return ""
}

// LoadClient reads client defaults, then the optional YAML file at
// configPath, then CREDITCTL_* environment overrides. Unlike Load it is not
// memoised.
func LoadClient(configPath string) (*ClientConfig, error) {
	return loadClient(configPath, env.Provider("", ".", clientEnvKeyReplacer))
}

func loadClient(configPath string, envProvider koanf.Provider) (*ClientConfig, error) {
	k := koanf.New(".")

	if err := setDefaults(k, clientDefaults); err != nil {
		return nil, fmt.Errorf("load client defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load client config file: %w", err)
		}
	}

	if envProvider != nil {
		if err := k.Load(envProvider, nil); err != nil {
			return nil, fmt.Errorf("load client env vars: %w", err)
		}
	}

	out := &ClientConfig{}
	if err := k.Unmarshal("", out); err != nil {
		return nil, fmt.Errorf("unmarshal client config: %w", err)
	}

	if out.SessionFile == "" {
		out.SessionFile = defaultSessionFile()
	}

	if err := validateClient(out); err != nil {
		return nil, fmt.Errorf("validate client config: %w", err)
	}

	return out, nil
}

func validateClient(c *ClientConfig) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must be http or https, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.AssumedDailyRate <= 0 {
		return fmt.Errorf("assumed_daily_rate must be positive")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	return nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".creditctl-session.json"
	}
	return filepath.Join(dir, "creditctl", "session.json")
}
