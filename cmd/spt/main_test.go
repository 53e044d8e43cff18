package main

import (
	"strings"
	"testing"
	"time"

	"github.com/cobaltdata/schemaport/internal/config"
)

func TestParseSince_Absolute(t *testing.T) {
	got, err := parseSince("2026-08-20T10:30:00Z")
	if err != nil {
		t.Fatalf("parseSince failed: %v", err)
	}
	want := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseSince_DateOnly(t *testing.T) {
	got, err := parseSince("2026-08-01")
	if err != nil {
		t.Fatalf("parseSince failed: %v", err)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParseSince_Natural(t *testing.T) {
	got, err := parseSince("yesterday")
	if err != nil {
		t.Fatalf("parseSince failed: %v", err)
	}
	age := time.Since(got)
	if age < 0 || age > 48*time.Hour {
		t.Errorf("Expected yesterday to land within the last 48h, got %v", got)
	}
}

func TestParseSince_Unparseable(t *testing.T) {
	if _, err := parseSince("qqq"); err == nil {
		t.Error("Expected an error for unparseable input")
	}
}

func TestSourceFilePath(t *testing.T) {
	cases := map[string]string{
		"app.db":                   "app.db",
		"./data/app.db":            "./data/app.db",
		"file:app.db":              "app.db",
		"file:app.db?cache=shared": "app.db",
		"file:///tmp/app.db":       "/tmp/app.db",
	}
	for dsn, want := range cases {
		if got := sourceFilePath(dsn); got != want {
			t.Errorf("sourceFilePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestResolveAuthToken_NotNeeded(t *testing.T) {
	cfg := &config.Config{Target: "staging.db"}
	if err := resolveAuthToken(cfg); err != nil {
		t.Errorf("Expected no token needed for a sqlite target: %v", err)
	}

	cfg = &config.Config{Target: "libsql://db.example.io", AuthToken: "tok"}
	if err := resolveAuthToken(cfg); err != nil {
		t.Errorf("Expected an existing token to pass through: %v", err)
	}
	if cfg.AuthToken != "tok" {
		t.Errorf("Expected the token to be untouched, got %q", cfg.AuthToken)
	}
}

func TestResolveAuthToken_RequiredWithoutTerminal(t *testing.T) {
	// The test binary's stdin is not a terminal, so the prompt path is
	// unreachable and the error surfaces instead.
	cfg := &config.Config{Target: "libsql://db.example.io"}
	err := resolveAuthToken(cfg)
	if err == nil || !strings.Contains(err.Error(), "auth token required") {
		t.Errorf("Expected an auth token error, got %v", err)
	}
}
