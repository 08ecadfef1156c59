package tlsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
)

func TestBuildDefaultPolicy(t *testing.T) {
	cfg := config.Default()
	tc, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tc.InsecureSkipVerify {
		t.Fatal("default policy should not disable verification")
	}
}

func TestBuildNoVerifyPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.TLSTrustPolicy = config.TrustNoVerify
	tc, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !tc.InsecureSkipVerify {
		t.Fatal("no-verify policy should disable verification")
	}
}

func TestBuildCustomCARequiresFile(t *testing.T) {
	cfg := config.Default()
	cfg.TLSTrustPolicy = config.TrustCustomCA
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error when ca_file is empty")
	}
}

func TestBuildCustomCALoadsPool(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caPath, []byte(testCAPEM), 0600); err != nil {
		t.Fatalf("write ca file: %v", err)
	}

	cfg := config.Default()
	cfg.TLSTrustPolicy = config.TrustCustomCA
	cfg.CAFile = caPath

	tc, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tc.RootCAs == nil {
		t.Fatal("expected RootCAs to be populated")
	}
}

func TestEnvOverridesWinOverConfig(t *testing.T) {
	t.Setenv("CYBERDRIVER_SSL_VERIFY", "false")

	cfg := config.Default()
	cfg.TLSTrustPolicy = config.TrustDefault

	tc, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !tc.InsecureSkipVerify {
		t.Fatal("CYBERDRIVER_SSL_VERIFY=false should force no-verify regardless of config")
	}
}

// A self-signed test certificate, valid only for exercising PEM parsing.
const testCAPEM = `-----BEGIN CERTIFICATE-----
MIIBeTCCAR+gAwIBAgIUP4x3XGR5eyz3FIwMYINB6JALMzwwCgYIKoZIzj0EAwIw
EjEQMA4GA1UEAwwHdGVzdC1jYTAeFw0yNjA3MzAwOTE5MjZaFw0zNjA3MjcwOTE5
MjZaMBIxEDAOBgNVBAMMB3Rlc3QtY2EwWTATBgcqhkjOPQIBBggqhkjOPQMBBwNC
AAQRkQuORokB4H15RD8l9pufToQ+PKfLtS0dqqmxgskgV/d7Smmv3m/xnFOMiVgi
7W9XWmOBOoBNVC/+MAvAbhCoo1MwUTAdBgNVHQ4EFgQUHTGmjcWvT1G9uIiUm6f6
s3JpumYwHwYDVR0jBBgwFoAUHTGmjcWvT1G9uIiUm6f6s3JpumYwDwYDVR0TAQH/
BAUwAwEB/zAKBggqhkjOPQQDAgNIADBFAiAZRrAQEfqWXTuJTv/5rAiPfdu7UcaW
kmEKQfAxNVTsWgIhAIvvO32jRr4KzF1f9dkOWxasE18QESrcJftN88UlxW09
-----END CERTIFICATE-----`
