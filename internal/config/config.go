package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Trends     Trends     `yaml:"trends"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Generation Generation `yaml:"generation"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Trends struct {
	Endpoint     string `yaml:"endpoint"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Region       string `yaml:"region"`
	DailyLimit   int    `yaml:"daily_limit"`
	MonthlyLimit int    `yaml:"monthly_limit"`
	RSSURL       string `yaml:"rss_url"`
}

type Scheduler struct {
	UpdatesPerDay       int    `yaml:"updates_per_day"`
	PlanSize            int    `yaml:"plan_size"`
	WindowStart         string `yaml:"window_start"`
	WindowEnd           string `yaml:"window_end"`
	DedupLookbackHours  int    `yaml:"dedup_lookback_hours"`
	StuckTimeoutMinutes int    `yaml:"stuck_timeout_minutes"`
}

type Generation struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for trendpress.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "trendpress")
}

// DataDir returns the XDG data directory for trendpress.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "trendpress")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/trendpress/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'trendpress init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Trends: Trends{
			Endpoint:     "https://serpapi.com/search.json",
			APIKeyEnv:    "SERPAPI_KEY",
			Region:       "US",
			DailyLimit:   250,
			MonthlyLimit: 5000,
			RSSURL:       "https://trends.google.com/trending/rss",
		},
		Scheduler: Scheduler{
			UpdatesPerDay:       6,
			PlanSize:            10,
			WindowStart:         "08:00",
			WindowEnd:           "22:00",
			DedupLookbackHours:  72,
			StuckTimeoutMinutes: 20,
		},
		Generation: Generation{
			Endpoint:  "https://api.openai.com/v1/chat/completions",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 1200,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Scheduler.UpdatesPerDay < 1 {
		return fmt.Errorf("scheduler.updates_per_day must be at least 1")
	}
	if c.Scheduler.PlanSize < 1 {
		return fmt.Errorf("scheduler.plan_size must be at least 1")
	}
	start, err := parseClock(c.Scheduler.WindowStart)
	if err != nil {
		return fmt.Errorf("scheduler.window_start: %w", err)
	}
	end, err := parseClock(c.Scheduler.WindowEnd)
	if err != nil {
		return fmt.Errorf("scheduler.window_end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("scheduler window must end after it starts (%s..%s)", c.Scheduler.WindowStart, c.Scheduler.WindowEnd)
	}
	return nil
}

// ActiveWindow returns the generation window as minutes after midnight.
func (c *Config) ActiveWindow() (startMin, endMin int) {
	startMin, _ = parseClock(c.Scheduler.WindowStart)
	endMin, _ = parseClock(c.Scheduler.WindowEnd)
	return startMin, endMin
}

// UpdateInterval returns the time between scheduled pipeline cycles.
func (c *Config) UpdateInterval() time.Duration {
	return 24 * time.Hour / time.Duration(c.Scheduler.UpdatesPerDay)
}

// StuckTimeout returns how long a job may sit in generating before it is
// considered stuck.
func (c *Config) StuckTimeout() time.Duration {
	return time.Duration(c.Scheduler.StuckTimeoutMinutes) * time.Minute
}

// DedupLookback returns the window within which a matching normalized title
// counts as a duplicate.
func (c *Config) DedupLookback() time.Duration {
	return time.Duration(c.Scheduler.DedupLookbackHours) * time.Hour
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
