package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdgram.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
app_name: gamesrv
listen: ":9000"
mtu: 900
log:
  level: debug
protocol:
  liveness_timeout_ms: 12000
  max_in_flight: 16
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "gamesrv" || cfg.Listen != ":9000" || cfg.MTU != 900 {
		t.Fatalf("top-level fields not applied: %+v", cfg)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log.level = %q", cfg.Log.Level)
	}
	// Unset keys keep their defaults.
	if cfg.TickMS != 10 || cfg.Protocol.ResendLimit != 10 {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}

	p := cfg.Params()
	if p.App != "gamesrv" {
		t.Fatalf("params app %q", p.App)
	}
	if p.LivenessTimeout != 12*time.Second {
		t.Fatalf("liveness %v", p.LivenessTimeout)
	}
	if p.MaxInFlight != 16 {
		t.Fatalf("max in flight %d", p.MaxInFlight)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.Listen != want.Listen || cfg.MTU != want.MTU || cfg.AppName != want.AppName {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RDGRAM_LISTEN", ":8181")
	t.Setenv("RDGRAM_LOG_LEVEL", "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8181" {
		t.Fatalf("env listen not applied: %q", cfg.Listen)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env log level not applied: %q", cfg.Log.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	if _, err := Load(writeConfig(t, "mtu: 17\n")); err == nil {
		t.Fatalf("tiny mtu accepted")
	}
	if _, err := Load(writeConfig(t, "log:\n  level: shouting\n")); err == nil {
		t.Fatalf("bad log level accepted")
	}
	if _, err := Load(writeConfig(t, "protocol:\n  resend_rtt_multiple: 0.5\n")); err == nil {
		t.Fatalf("sub-unity rtt multiple accepted")
	}
}
