// Package fingerprint manages the agent's process-stable identity: a UUID v4
// generated once on first run and persisted alongside the runtime config so
// that every later start reports the same identity to the cloud.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cyberdesk-hq/cyberdriver/internal/config"
	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
)

var log = logging.L("fingerprint")

// state is the shape persisted at <config-dir>/.cyberdriver/config.json.
type state struct {
	Version     string `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

// fileName is the persisted identity file; it is distinct from the runtime
// config.yaml written by the config package.
const fileName = "config.json"

// LoadOrCreate returns the persisted fingerprint, generating and persisting a
// fresh UUID v4 on first run. version is stamped into the file for operator
// visibility; it does not affect the fingerprint's stability.
func LoadOrCreate(version string) (string, error) {
	path := filepath.Join(config.Dir(), fileName)

	if existing, err := read(path); err == nil && existing.Fingerprint != "" {
		if existing.Version != version {
			existing.Version = version
			if werr := write(path, existing); werr != nil {
				log.Warn("could not refresh stamped version", "path", path, "error", werr)
			}
		}
		return existing.Fingerprint, nil
	}

	fresh := state{
		Version:     version,
		Fingerprint: uuid.NewString(),
	}
	if err := write(path, &fresh); err != nil {
		return "", fmt.Errorf("fingerprint: persist: %w", err)
	}
	log.Info("generated new fingerprint", "fingerprint", fresh.Fingerprint)
	return fresh.Fingerprint, nil
}

func read(path string) (*state, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("fingerprint: parse %s: %w", path, err)
	}
	return &s, nil
}

func write(path string, s *state) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
