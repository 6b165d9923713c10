package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"cardscene/internal/catalog"
	"cardscene/internal/model"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.Poll != defaultPoll || cfg.FrameRate != defaultFrameRate {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Events) != len(cfg.Events) || len(again.Holidays) != 1 {
		t.Errorf("reloaded config lost sections: %+v", again)
	}
	if again.Holidays[0].Background != model.KindChristmasSnow || again.Holidays[0].From != "12-24" {
		t.Errorf("holiday = %+v", again.Holidays[0])
	}
}

func TestLoadPartialConfigIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
timezone: UTC
recurring:
  - start_hour: 22
    end_hour: 4
    event: thought_bubble
calendar:
  - year: 2025
    month: 12
    day: 24
    hour: 19
    event: SPEECH_BUBBLE
    text: Merry Christmas
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != defaultListen || cfg.LogLevel != defaultLogLevel {
		t.Errorf("normalize did not fill defaults: %+v", cfg)
	}
	if len(cfg.Events) != len(model.Kinds())-1 {
		t.Errorf("events = %d, want built-in set", len(cfg.Events))
	}
	if cfg.Recurring[0].Event != model.KindThoughtBubble {
		t.Errorf("recurring event = %v", cfg.Recurring[0].Event)
	}
	if cfg.Calendar[0].Key() != "2025-12-24T19:00/SPEECH_BUBBLE" {
		t.Errorf("calendar key = %s", cfg.Calendar[0].Key())
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "recurring:\n  - start_hour: 1\n    end_hour: 2\n    event: DRAGON\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestCatalogConfigBuildsDefaultCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cc, err := cfg.CatalogConfig(time.UTC)
	if err != nil {
		t.Fatalf("CatalogConfig: %v", err)
	}
	cat, err := catalog.New(cc)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	d, err := cat.DurationOf(model.KindSpeechBubble)
	if err != nil || d != 4*time.Second {
		t.Errorf("speech duration = %v, %v", d, err)
	}
	christmas := time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC)
	if !cat.Suppressed(model.KindBirdFlyby, christmas) {
		t.Errorf("bird should be suppressed on Dec 25")
	}
	h, ok := cat.HolidayAt(christmas)
	if !ok || h.GreetingDelay != 1500*time.Millisecond || h.BackgroundDelay != 4*time.Second {
		t.Errorf("holiday = %+v, %v", h, ok)
	}
}

func TestCatalogConfigBadWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Blackouts = []BlackoutConfig{{Event: model.KindBirdFlyby, From: "13-01"}}
	if _, err := cfg.CatalogConfig(time.UTC); err == nil {
		t.Errorf("expected error for month 13")
	}

	cfg = DefaultConfig()
	cfg.Blackouts = []BlackoutConfig{{Event: model.KindBirdFlyby, From: "02-14"}}
	cc, err := cfg.CatalogConfig(time.UTC)
	if err != nil {
		t.Fatalf("single-day window: %v", err)
	}
	if cc.Blackouts[0].Window != catalog.Day(time.February, 14) {
		t.Errorf("window = %v", cc.Blackouts[0].Window)
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "Asia/Shanghai"}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Shanghai" {
		t.Errorf("Location = %v, %v", loc, err)
	}

	cfg.Timezone = "Mars/Olympus"
	if loc, err := cfg.Location(); err == nil || loc != time.Local {
		t.Errorf("bad timezone should fall back to Local with error")
	}
}
