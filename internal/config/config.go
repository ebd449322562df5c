package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultFileName = "shiftbot.yml"
	DefaultBaseURL  = "https://open.larksuite.com"
	appIDPrefix     = "cli_"
)

// Config models shiftbot.yml.
type Config struct {
	App struct {
		ID                string `yaml:"id"`
		Secret            string `yaml:"secret"`
		VerificationToken string `yaml:"verification_token"`
		BaseURL           string `yaml:"base_url"`
		ReceiveIDType     string `yaml:"receive_id_type"`
	} `yaml:"app"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Schedule  Schedule `yaml:"schedule"`
	Roster    Roster   `yaml:"roster"`
	Admins    []string `yaml:"admins"`
	Approvers []string `yaml:"approvers"`
}

// Schedule holds the duty hour buckets and background intervals.
type Schedule struct {
	Timezone         string `yaml:"timezone"`
	DayStart         int    `yaml:"day_start"`
	NightStart       int    `yaml:"night_start"`
	NightEnd         int    `yaml:"night_end"`
	ActiveSize       int    `yaml:"active_size"`
	RotationDays     int    `yaml:"rotation_days"`
	FallbackID       string `yaml:"fallback_id"`
	ReminderInterval string `yaml:"reminder_interval"`
}

type Roster struct {
	Day   []string `yaml:"day"`
	Night []string `yaml:"night"`
}

// Location resolves the schedule timezone, falling back to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RotationPeriod is the minimum time between two roster rotations.
func (s Schedule) RotationPeriod() time.Duration {
	days := s.RotationDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// Interval is the reminder ticker period.
func (s Schedule) Interval() time.Duration {
	d, err := time.ParseDuration(s.ReminderInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Default returns a config with every optional field populated.
func Default() *Config {
	var cfg Config
	cfg.App.BaseURL = DefaultBaseURL
	cfg.App.ReceiveIDType = "open_id"
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v0"
	cfg.Schedule = Schedule{
		Timezone:         "Europe/Moscow",
		DayStart:         10,
		NightStart:       16,
		NightEnd:         21,
		ActiveSize:       2,
		RotationDays:     7,
		ReminderInterval: "60s",
	}
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	s := c.Schedule
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone %q is invalid: %w", s.Timezone, err)
		}
	}
	if s.DayStart < 0 || s.DayStart >= s.NightStart || s.NightStart > s.NightEnd || s.NightEnd > 24 {
		return fmt.Errorf("schedule hours must satisfy 0 <= day_start < night_start <= night_end <= 24")
	}
	if s.ActiveSize < 1 {
		return fmt.Errorf("schedule.active_size must be at least 1")
	}
	if s.RotationDays < 1 {
		return fmt.Errorf("schedule.rotation_days must be at least 1")
	}
	if s.ReminderInterval != "" {
		d, err := time.ParseDuration(s.ReminderInterval)
		if err != nil {
			return fmt.Errorf("schedule.reminder_interval is invalid: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("schedule.reminder_interval must be positive")
		}
	}
	if c.App.BaseURL != "" && !strings.HasPrefix(c.App.BaseURL, "http://") && !strings.HasPrefix(c.App.BaseURL, "https://") {
		return fmt.Errorf("app.base_url must be an http(s) URL")
	}
	for team, members := range map[string][]string{"day": c.Roster.Day, "night": c.Roster.Night} {
		for _, m := range members {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("roster.%s contains an empty member id", team)
			}
		}
	}
	for _, id := range c.Admins {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("admins contains an empty id")
		}
	}
	for _, id := range c.Approvers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("approvers contains an empty id")
		}
	}
	if strings.Trim(c.Server.BasePath, "/ ") == "" {
		return fmt.Errorf("server.base_path must name a prefix such as /v0; the root is taken by the webhook")
	}
	return nil
}

// DoctorResult is the deployment self-check answer.
type DoctorResult struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// OK reports whether the check passed.
func (d DoctorResult) OK() bool { return d.Code == 0 }

// Doctor checks the app credentials the way the platform expects them.
func (c *Config) Doctor() DoctorResult {
	switch {
	case c.App.ID == "":
		return DoctorResult{Code: 1, Message: "app id is not configured; set SHIFTBOT_APP_ID (or APPID) and redeploy"}
	case !strings.HasPrefix(c.App.ID, appIDPrefix):
		return DoctorResult{Code: 1, Message: "app id is wrong; Lark app ids start with " + appIDPrefix}
	case c.App.Secret == "":
		return DoctorResult{Code: 1, Message: "app secret is not configured; set SHIFTBOT_APP_SECRET (or SECRET) and redeploy"}
	}
	return DoctorResult{
		Code:    0,
		Message: "configuration is correct, the bot is ready to use",
		Meta:    map[string]string{"app_id": c.App.ID},
	}
}

// Path returns the config file path for a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, DefaultFileName)
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with shiftbot config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Missing fields keep
// their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns a commented starter config.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `app:
  id: ""            # cli_..., or SHIFTBOT_APP_ID / APPID
  secret: ""        # or SHIFTBOT_APP_SECRET / SECRET
  verification_token: ""
  base_url: https://open.larksuite.com
  receive_id_type: open_id

server:
  addr: ":8080"
  base_path: /v0
  jwt_secret: ""    # enables the /v0 admin API

storage:
  path: ""          # empty keeps everything in memory

schedule:
  timezone: Europe/Moscow
  day_start: 10
  night_start: 16
  night_end: 21
  active_size: 2
  rotation_days: 7
  fallback_id: ""
  reminder_interval: 60s

roster:
  day: []
  night: []

admins: []
approvers: []
`
