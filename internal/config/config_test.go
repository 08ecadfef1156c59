package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultPassesValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate, got %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 70000")
	}
}

func TestValidateRejectsBadTrustPolicy(t *testing.T) {
	cfg := Default()
	cfg.TLSTrustPolicy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid trust policy")
	}
}

func TestValidateRequiresCAFileForCustomCA(t *testing.T) {
	cfg := Default()
	cfg.TLSTrustPolicy = TrustCustomCA
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when custom-ca-file policy has no ca_file")
	}
	cfg.CAFile = "/etc/cyberdriver/ca.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error once ca_file set, got %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Secret = "s3cr3t"
	cfg.Host = "https://example.invalid"
	cfg.Port = 9090

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Secret != cfg.Secret || loaded.Host != cfg.Host || loaded.Port != cfg.Port {
		t.Fatalf("round trip mismatch: got %+v, want secret/host/port %q/%q/%d", loaded, cfg.Secret, cfg.Host, cfg.Port)
	}
}
