package main

import (
	"os"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "indexd-config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := file.WriteString(contents); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close config: %v", err)
	}
	return file.Name()
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "database: index.db\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":7172" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Node.WSURL != "ws://127.0.0.1:8080/ws/events" {
		t.Fatalf("unexpected ws url: %q", cfg.Node.WSURL)
	}
	if cfg.Node.ReconnectMin.Duration != time.Second {
		t.Fatalf("unexpected reconnect_min: %s", cfg.Node.ReconnectMin.Duration)
	}
	if cfg.QueryLimit != 100 {
		t.Fatalf("unexpected query limit: %d", cfg.QueryLimit)
	}
}

func TestLoadConfigRejectsNonWebsocketURL(t *testing.T) {
	path := writeTempConfig(t,
		"node:\n"+
			"  ws_url: \"http://127.0.0.1:8080/ws/events\"\n")

	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "ws or wss") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeTempConfig(t,
		"node:\n"+
			"  ws_url: \"wss://node.launchpad.example/ws/events\"\n"+
			"  dial_timeout: 3s\n"+
			"  reconnect_min: 500ms\n"+
			"  reconnect_max: 1m\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Node.DialTimeout.Duration != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %s", cfg.Node.DialTimeout.Duration)
	}
	if cfg.Node.ReconnectMin.Duration != 500*time.Millisecond {
		t.Fatalf("unexpected reconnect_min: %s", cfg.Node.ReconnectMin.Duration)
	}
	if cfg.Node.ReconnectMax.Duration != time.Minute {
		t.Fatalf("unexpected reconnect_max: %s", cfg.Node.ReconnectMax.Duration)
	}
}
