// Package tlsconfig builds the *tls.Config the session dialer uses against
// the cloud host, selecting among the four trust policies the agent
// supports. The tunnel connection is one-way TLS from the agent's
// perspective: no client certificate is ever presented.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
)

var log = logging.L("tlsconfig")

// Build returns a *tls.Config reflecting cfg's trust policy. Environment
// variables CYBERDRIVER_USE_SYSTEM_CERTS, CYBERDRIVER_CA_FILE, and
// CYBERDRIVER_SSL_VERIFY override the configured policy.
func Build(cfg *config.Config) (*tls.Config, error) {
	policy := cfg.TLSTrustPolicy
	caFile := cfg.CAFile

	if v := os.Getenv("CYBERDRIVER_USE_SYSTEM_CERTS"); v == "1" || v == "true" {
		policy = config.TrustSystem
	}
	if v := os.Getenv("CYBERDRIVER_CA_FILE"); v != "" {
		policy = config.TrustCustomCA
		caFile = v
	}
	if v := os.Getenv("CYBERDRIVER_SSL_VERIFY"); v == "0" || v == "false" {
		policy = config.TrustNoVerify
	}

	switch policy {
	case config.TrustDefault, config.TrustSystem:
		// The Go runtime's default RootCAs already resolve to the system
		// trust store on every platform cyberdriver targets; no override
		// needed for either policy.
		return &tls.Config{}, nil

	case config.TrustCustomCA:
		pool, err := loadCAFile(caFile)
		if err != nil {
			return nil, err
		}
		return &tls.Config{RootCAs: pool}, nil

	case config.TrustNoVerify:
		log.Warn("TLS certificate verification disabled; connection is not authenticated")
		return &tls.Config{InsecureSkipVerify: true}, nil

	default:
		return nil, fmt.Errorf("tlsconfig: unknown trust policy %q", policy)
	}
}

func loadCAFile(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, fmt.Errorf("tlsconfig: custom-ca-file policy requires a CA file path")
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: read CA file %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tlsconfig: no certificates parsed from %s", path)
	}
	return pool, nil
}
