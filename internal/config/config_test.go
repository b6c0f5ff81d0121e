package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
	relay := cfg.GetRelayData()
	if relay.Mode != ModeKickoff {
		t.Errorf("default mode = %q", relay.Mode)
	}
	if relay.Port != DefaultRelayPort {
		t.Errorf("default relay port = %d", relay.Port)
	}
	if !cfg.IsFirstRun() {
		t.Error("fresh default config should report first run")
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := `{"relay_data":{"room":"weekly-race","seed":"7HSQ2","relay_hostname":"relay.example.net"}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	relay := cfg.GetRelayData()
	if relay.Room != "weekly-race" || relay.Seed != "7HSQ2" {
		t.Errorf("file values not applied: %+v", relay)
	}
	if relay.Hostname != "relay.example.net" {
		t.Errorf("hostname = %q", relay.Hostname)
	}
	// Fields absent from the file keep their defaults.
	if relay.Port != DefaultRelayPort {
		t.Errorf("defaulted port = %d", relay.Port)
	}
	if app := cfg.GetApplicationData(); app.Logging.Level != "info" {
		t.Errorf("defaulted log level = %q", app.Logging.Level)
	}
}

func TestApplyOverridesKnownKeys(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.ApplyOverrides([]string{
		"ROOM=friday-night",
		"SEED=XK92A",
		"MODE=ongoing",
		"HOST=10.0.0.5",
		"PORT=4040",
		"CLIENT_ID=2",
		"LOG_LEVEL=Debug",
	})
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}

	relay := cfg.GetRelayData()
	if relay.Room != "friday-night" || relay.Seed != "XK92A" {
		t.Errorf("relay data = %+v", relay)
	}
	if relay.Mode != ModeOngoing {
		t.Errorf("mode not upper-cased: %q", relay.Mode)
	}
	if relay.Hostname != "10.0.0.5" || relay.Port != 4040 || relay.PeerClientID != 2 {
		t.Errorf("endpoint overrides not applied: %+v", relay)
	}
	if level := cfg.GetApplicationData().Logging.Level; level != "debug" {
		t.Errorf("log level not lower-cased: %q", level)
	}
}

func TestApplyOverridesUnknownKeysBecomeCVars(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.ApplyOverrides([]string{"net_maxBandwidth=4000", "ui_theme=dark"}); err != nil {
		t.Fatalf("overrides: %v", err)
	}

	cvars := cfg.GetCVars()
	if cvars["net_maxBandwidth"] != "4000" || cvars["ui_theme"] != "dark" {
		t.Errorf("cvars = %v", cvars)
	}
}

func TestApplyOverridesRejectsMalformedPairs(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.ApplyOverrides([]string{"no-equals-sign"}); err == nil {
		t.Error("malformed pair accepted")
	}
	if err := cfg.ApplyOverrides([]string{"=value"}); err == nil {
		t.Error("empty key accepted")
	}
	if err := cfg.ApplyOverrides([]string{"PORT=not-a-number"}); err == nil {
		t.Error("non-numeric port accepted")
	}
}

func TestValidateRequiresRaceIdentity(t *testing.T) {
	cfg := DefaultConfig()

	result := Validate(cfg)
	if result.IsValid() {
		t.Fatal("config without room/seed validated")
	}

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	if !fields["relay_data.room"] || !fields["relay_data.seed"] {
		t.Errorf("missing expected errors, got %v", result.Errors)
	}
}

func TestValidateCompleteConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelayData.Room = "weekly"
	cfg.RelayData.Seed = "S33D"

	if result := Validate(cfg); !result.IsValid() {
		t.Errorf("complete config rejected: %v", result.Errors)
	}

	cfg.RelayData.Mode = "FREEFORM"
	if result := Validate(cfg); result.IsValid() {
		t.Error("unknown mode accepted")
	}
}

func TestValidateMQTTRequiresBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelayData.Room = "weekly"
	cfg.RelayData.Seed = "S33D"
	cfg.ApplicationData.MQTT.Enabled = true

	if result := Validate(cfg); result.IsValid() {
		t.Error("MQTT enabled without broker URL accepted")
	}
}

func TestGetCVarsReturnsCopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetCVar("ui_theme", "dark")

	cvars := cfg.GetCVars()
	cvars["ui_theme"] = "light"

	if cfg.GetCVars()["ui_theme"] != "dark" {
		t.Error("GetCVars exposed internal map")
	}
}
