package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procresolver.yml")
	body := `procresolver:
  store:
    mode: memory
    memory:
      path: fixtures/events.jsonl
    call_timeout: 750ms
  resolver:
    default_page_size: 25
    legacy:
      alerts_enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	ApplyDefaults(cfg)

	c := cfg.ProcResolver
	if c.Store.Mode != "memory" || c.Store.Memory.Path != "fixtures/events.jsonl" {
		t.Fatalf("unexpected store config: %+v", c.Store)
	}
	if c.Store.CallTimeout != 750*time.Millisecond {
		t.Fatalf("expected call timeout 750ms, got %v", c.Store.CallTimeout)
	}
	if c.Resolver.DefaultPageSize != 25 {
		t.Fatalf("expected page size 25, got %d", c.Resolver.DefaultPageSize)
	}
	if c.Resolver.Legacy.ChildrenPageSize != 10 || c.Resolver.Legacy.Generations != 3 {
		t.Fatalf("unexpected legacy defaults: %+v", c.Resolver.Legacy)
	}
	if c.Resolver.Legacy.AlertsEnabled == nil || *c.Resolver.Legacy.AlertsEnabled {
		t.Fatalf("explicit alerts_enabled=false must survive defaults")
	}
	if c.Server.AuthHeader != "X-Authenticated-User" {
		t.Fatalf("unexpected auth header default %q", c.Server.AuthHeader)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("procresolver: [unclosed"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestExplicitZeroGenerationsAndMaxLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procresolver.yml")
	body := `procresolver:
  resolver:
    default_generations: 0
    max_page_size: 200
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	ApplyDefaults(cfg)

	r := cfg.ProcResolver.Resolver
	if r.DefaultGenerations == nil || *r.DefaultGenerations != 0 {
		t.Fatalf("explicit default_generations=0 must survive defaults, got %v", r.DefaultGenerations)
	}
	if r.MaxPageSize != 200 || r.MaxGenerations != 100 {
		t.Fatalf("unexpected max limits: page=%d generations=%d", r.MaxPageSize, r.MaxGenerations)
	}

	unset := &Config{}
	ApplyDefaults(unset)
	if g := unset.ProcResolver.Resolver.DefaultGenerations; g == nil || *g != 10 {
		t.Fatalf("expected default generations 10, got %v", g)
	}
}
