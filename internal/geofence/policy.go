// Package geofence validates GPS fixes against the configured campus
// region. Policy is persisted as a small JSON document so admins can
// move or resize the region without a restart; every evaluation reads
// the file fresh.
package geofence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Policy is the persisted campus region. One process-wide value.
type Policy struct {
	Label     string  `json:"campus_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKM  float64 `json:"radius_km"`
	Enabled   bool    `json:"enabled"`
}

// DefaultPolicy is used when no policy file exists yet.
func DefaultPolicy() Policy {
	return Policy{
		Label:     "Campus",
		Latitude:  31.7768,
		Longitude: 77.0144,
		RadiusKM:  2.0,
		Enabled:   true,
	}
}

// PolicyStore reads and replaces the policy file. Writes are whole-file
// replace; a missing file reads as the default policy.
type PolicyStore struct {
	mu   sync.Mutex
	path string
}

func NewPolicyStore(path string) *PolicyStore {
	return &PolicyStore{path: path}
}

func (s *PolicyStore) Load() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("geofence: policy file unreadable, using defaults",
				"path", s.path, "error", err)
		}
		return DefaultPolicy()
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("geofence: policy file corrupt, using defaults",
			"path", s.path, "error", err)
		return DefaultPolicy()
	}
	return p
}

func (s *PolicyStore) Save(p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create policy dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write policy file: %w", err)
	}
	return nil
}
