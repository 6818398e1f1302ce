package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mmk.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(cwd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Listen.Port != 3142 {
		t.Errorf("Listen.Port = %d, want 3142", cfg.Listen.Port)
	}
	if cfg.Listen.MulticastGroup != "ff02::1" {
		t.Errorf("Listen.MulticastGroup = %q, want ff02::1", cfg.Listen.MulticastGroup)
	}
	if cfg.Election.K != 5 {
		t.Errorf("Election.K = %d, want 5", cfg.Election.K)
	}
	if cfg.Election.T.Seconds() != 6 {
		t.Errorf("Election.T = %v, want 6s", cfg.Election.T)
	}
	if cfg.Election.TPoll.Seconds() != 4 {
		t.Errorf("Election.TPoll = %v, want 4s", cfg.Election.TPoll)
	}
}

func TestLoadValidYAML(t *testing.T) {
	path := writeTempConfig(t, `
role: coordinator
election:
  k: 7
coordinator:
  topology: mesh
  max_exp: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Role != RoleCoordinator {
		t.Errorf("Role = %q, want coordinator", cfg.Role)
	}
	if cfg.Election.K != 7 {
		t.Errorf("Election.K = %d, want 7", cfg.Election.K)
	}
	if cfg.Coordinator.Topology != "mesh" {
		t.Errorf("Coordinator.Topology = %q, want mesh", cfg.Coordinator.Topology)
	}
	if cfg.Coordinator.MaxExp != 3 {
		t.Errorf("Coordinator.MaxExp = %d, want 3", cfg.Coordinator.MaxExp)
	}
}

func TestLoadRejectsUnknownTopology(t *testing.T) {
	path := writeTempConfig(t, `
role: coordinator
coordinator:
  topology: star
`)
	if _, err := Load(path); err == nil {
		t.Errorf("expected error for unknown topology")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/mmk.yaml"); err == nil {
		t.Errorf("expected error for missing config file")
	}
}

func TestValidateRejectsBadRole(t *testing.T) {
	cfg := &Config{Role: "bogus", Listen: Listen{Port: 3142}, Election: Election{T: 1, TPoll: 1}}
	if err := Validate(cfg); err == nil {
		t.Errorf("expected error for bad role")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{Role: RoleWorker, Listen: Listen{Port: 0}, Election: Election{T: 1, TPoll: 1}}
	if err := Validate(cfg); err == nil {
		t.Errorf("expected error for bad port")
	}
}
