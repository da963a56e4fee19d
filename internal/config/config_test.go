package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Lark.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Lark.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_PortClash(t *testing.T) {
	cfg := Defaults()
	cfg.Lark.Enabled = true
	cfg.WeCom.Enabled = true
	cfg.WeCom.EncodingAESKey = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"
	cfg.Lark.Port = 8080
	cfg.WeCom.Port = 8080
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for identical channel ports")
	}
}

func TestValidate_WeComKeyLength(t *testing.T) {
	cfg := Defaults()
	cfg.WeCom.Enabled = true
	cfg.WeCom.EncodingAESKey = "short"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for bad encodingAesKey length")
	}
}

func TestValidate_MaxRetriesBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.MaxRetries = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxRetries=0")
	}
	cfg.Conversation.MaxRetries = 11
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxRetries=11")
	}
}

func TestValidate_MissingCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Job.Command = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty job.command")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_Set(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "secret123")
	got := ExpandEnvVars(`{"token": "${TEST_BOT_TOKEN}"}`)
	if got != `{"token": "secret123"}` {
		t.Errorf("got %s", got)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("TEST_BOT_MISSING")
	got := ExpandEnvVars(`${TEST_BOT_MISSING:-fallback}`)
	if got != "fallback" {
		t.Errorf("got %s", got)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	os.Unsetenv("TEST_BOT_MISSING")
	got := ExpandEnvVars(`${TEST_BOT_MISSING}`)
	if got != "${TEST_BOT_MISSING}" {
		t.Errorf("unset var without default should stay literal, got %s", got)
	}
}

func TestExpandEnvVars_EmptyUsesDefault(t *testing.T) {
	t.Setenv("TEST_BOT_EMPTY", "")
	got := ExpandEnvVars(`${TEST_BOT_EMPTY:-fb}`)
	if got != "fb" {
		t.Errorf("empty var with default should use default, got %s", got)
	}
}

// --- Load / Save ---

func TestLoadSave_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Lark.Enabled = true
	cfg.Lark.AppID = "cli_xyz"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Lark.Enabled || loaded.Lark.AppID != "cli_xyz" {
		t.Errorf("loaded: %+v", loaded.Lark)
	}
	if loaded.Job.ProgressMarker != "[PROGRESS]" {
		t.Errorf("defaults should survive the roundtrip, got %q", loaded.Job.ProgressMarker)
	}
}

func TestLoad_EnvExpansionInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	t.Setenv("TEST_BOT_APPID", "cli_fromenv")

	body := `{"lark": {"enabled": true, "appId": "${TEST_BOT_APPID}", "appSecret": "s"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Lark.AppID != "cli_fromenv" {
		t.Errorf("got %q", cfg.Lark.AppID)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_InvalidRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"conversation": {"maxRetries": 99}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
