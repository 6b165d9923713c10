package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"cardscene/internal/catalog"
	"cardscene/internal/model"
)

// EventConfig is the per-kind metadata block.
type EventConfig struct {
	Kind        model.Kind `yaml:"kind" json:"kind"`
	DurationMs  int        `yaml:"duration_ms" json:"duration_ms"`
	Background  bool       `yaml:"background,omitempty" json:"background"`
	AcceptsText bool       `yaml:"accepts_text,omitempty" json:"accepts_text"`
	DefaultText string     `yaml:"default_text,omitempty" json:"default_text,omitempty"`
}

// BlackoutConfig suppresses Event between From and To ("MM-DD", inclusive).
type BlackoutConfig struct {
	Event model.Kind `yaml:"event" json:"event"`
	From  string     `yaml:"from" json:"from"`
	To    string     `yaml:"to" json:"to"`
}

// HolidayConfig forces a background event between From and To and may play
// a one-time greeting when the scene mounts.
type HolidayConfig struct {
	Name              string     `yaml:"name" json:"name"`
	From              string     `yaml:"from" json:"from"`
	To                string     `yaml:"to" json:"to"`
	Background        model.Kind `yaml:"background" json:"background"`
	Greeting          string     `yaml:"greeting,omitempty" json:"greeting,omitempty"`
	GreetingDelayMs   int        `yaml:"greeting_delay_ms,omitempty" json:"greeting_delay_ms"`
	BackgroundDelayMs int        `yaml:"background_delay_ms,omitempty" json:"background_delay_ms"`
}

// ICSConfig describes a single calendar feed whose VEVENT summaries name
// scene events.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// BatteryConfig selects the battery reader. With Enabled false, or off
// Linux, a mock reader is used.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bus     string `yaml:"bus,omitempty" json:"bus,omitempty"`
	Addr    uint16 `yaml:"addr" json:"addr"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen   string `yaml:"listen" json:"listen"`
	Timezone string `yaml:"timezone" json:"timezone"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Poll is a robfig/cron spec for the rule polling cadence.
	Poll      string `yaml:"poll" json:"poll"`
	FrameRate int    `yaml:"frame_rate" json:"frame_rate"`

	Events    []EventConfig         `yaml:"events" json:"events"`
	Recurring []model.RecurringRule `yaml:"recurring" json:"recurring"`
	Calendar  []model.CalendarEvent `yaml:"calendar" json:"calendar"`
	Blackouts []BlackoutConfig      `yaml:"blackouts" json:"blackouts"`
	Holidays  []HolidayConfig       `yaml:"holidays" json:"holidays"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`
	// ICSHorizonDays is how far ahead recurring feed entries are expanded.
	ICSHorizonDays int    `yaml:"ics_horizon_days" json:"ics_horizon_days"`
	ICSCacheDir    string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "Asia/Shanghai"
	defaultLogLevel       = "info"
	defaultPoll           = "@every 10s"
	defaultFrameRate      = 60
	defaultICSHorizonDays = 30
	defaultICSCacheDir    = "./var/ics-cache"
	defaultBatteryAddr    = 0x57
)

// DefaultConfig returns the built-in scene as a config file.
func DefaultConfig() *Config {
	cat := catalog.DefaultConfig()

	cfg := &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		LogLevel:       defaultLogLevel,
		Poll:           defaultPoll,
		FrameRate:      defaultFrameRate,
		Recurring:      cat.Recurring,
		Calendar:       []model.CalendarEvent{},
		ICS:            []ICSConfig{},
		ICSHorizonDays: defaultICSHorizonDays,
		ICSCacheDir:    defaultICSCacheDir,
		Battery:        BatteryConfig{Addr: defaultBatteryAddr},
	}
	for _, k := range cat.Kinds {
		cfg.Events = append(cfg.Events, EventConfig{
			Kind:        k.Kind,
			DurationMs:  int(k.Duration / time.Millisecond),
			Background:  k.Background,
			AcceptsText: k.AcceptsText,
			DefaultText: k.DefaultText,
		})
	}
	for _, b := range cat.Blackouts {
		cfg.Blackouts = append(cfg.Blackouts, BlackoutConfig{
			Event: b.Event,
			From:  b.Window.From.String(),
			To:    b.Window.To.String(),
		})
	}
	for _, h := range cat.Holidays {
		cfg.Holidays = append(cfg.Holidays, HolidayConfig{
			Name:              h.Name,
			From:              h.Window.From.String(),
			To:                h.Window.To.String(),
			Background:        h.Background,
			Greeting:          h.Greeting,
			GreetingDelayMs:   int(h.GreetingDelay / time.Millisecond),
			BackgroundDelayMs: int(h.BackgroundDelay / time.Millisecond),
		})
	}
	return cfg
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. Rule sections are left alone: an empty list is a
// valid choice.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Poll == "" {
		c.Poll = defaultPoll
	}
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	// Without event metadata nothing can play; take the built-in set.
	if len(c.Events) == 0 {
		c.Events = DefaultConfig().Events
	}
	if c.ICSHorizonDays <= 0 {
		c.ICSHorizonDays = defaultICSHorizonDays
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = defaultICSCacheDir
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = defaultBatteryAddr
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// CatalogConfig converts the file sections into catalog input. Month-day
// windows are parsed here; everything else is validated by catalog.New.
func (c *Config) CatalogConfig(loc *time.Location) (catalog.Config, error) {
	out := catalog.Config{
		Recurring: append([]model.RecurringRule(nil), c.Recurring...),
		Calendar:  append([]model.CalendarEvent(nil), c.Calendar...),
		Location:  loc,
	}

	for _, e := range c.Events {
		out.Kinds = append(out.Kinds, catalog.KindSpec{
			Kind:        e.Kind,
			Duration:    time.Duration(e.DurationMs) * time.Millisecond,
			Background:  e.Background,
			AcceptsText: e.AcceptsText,
			DefaultText: e.DefaultText,
		})
	}

	for i, b := range c.Blackouts {
		w, err := window(b.From, b.To)
		if err != nil {
			return catalog.Config{}, fmt.Errorf("blackouts[%d]: %w", i, err)
		}
		out.Blackouts = append(out.Blackouts, catalog.Blackout{Event: b.Event, Window: w})
	}

	for i, h := range c.Holidays {
		w, err := window(h.From, h.To)
		if err != nil {
			return catalog.Config{}, fmt.Errorf("holidays[%d] %s: %w", i, h.Name, err)
		}
		out.Holidays = append(out.Holidays, catalog.Holiday{
			Name:            h.Name,
			Window:          w,
			Background:      h.Background,
			Greeting:        h.Greeting,
			GreetingDelay:   time.Duration(h.GreetingDelayMs) * time.Millisecond,
			BackgroundDelay: time.Duration(h.BackgroundDelayMs) * time.Millisecond,
		})
	}
	return out, nil
}

func window(from, to string) (catalog.Window, error) {
	f, err := catalog.ParseMonthDay(from)
	if err != nil {
		return catalog.Window{}, err
	}
	if to == "" {
		return catalog.Window{From: f, To: f}, nil
	}
	t, err := catalog.ParseMonthDay(to)
	if err != nil {
		return catalog.Window{}, err
	}
	return catalog.Window{From: f, To: t}, nil
}

// Load loads configuration from the given YAML path. When the file does not
// exist a default config is written there (0600) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cardscene-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
