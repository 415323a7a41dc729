// Package config loads the declarative queue topology file
// (queues.yaml): queue name -> backend -> limiter settings. Grounded on
// the reference stack's yaml-declared pipeline spec
// (jobs/pipeline/learning_build), which uses the same
// gopkg.in/yaml.v3 struct-tag-driven unmarshal style.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Topology is the parsed form of queues.yaml.
type Topology struct {
	Queues []QueueSpec `yaml:"queues"`
}

// QueueSpec describes one queue's backend and limiter.
type QueueSpec struct {
	Name    string        `yaml:"name"`
	Backend BackendSpec   `yaml:"backend"`
	Limiter LimiterSpec   `yaml:"limiter"`
	Wait    time.Duration `yaml:"wait_duration"`
}

// BackendSpec selects and configures one of the four JobStore backends.
type BackendSpec struct {
	// Kind is one of "memory", "sqlite", "postgres", "badger".
	Kind string `yaml:"kind"`
	// DSN is the connection string (sqlite/postgres) or directory path
	// (badger). Unused for "memory".
	DSN string `yaml:"dsn"`
}

// LimiterSpec selects and configures a RateLimiter.
type LimiterSpec struct {
	// Kind is one of "concurrency" (in-process only) or "stored"
	// (persists via a sqlledger Ledger, configured by Ledger).
	Kind          string        `yaml:"kind"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	WindowN       int           `yaml:"window_n"`
	WindowPeriod  time.Duration `yaml:"window_period"`
	Ledger        LedgerSpec    `yaml:"ledger"`
}

// LedgerSpec configures a StoredRateLimiter's backing Ledger.
type LedgerSpec struct {
	// Kind must be "sql"; BuildRegistry rejects any other value, including
	// "redis" (redis ledgers are built in code with redisledger.New).
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// Load reads and parses a topology file from path.
func Load(path string) (*Topology, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology config: %w", err)
	}
	var t Topology
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse topology config: %w", err)
	}
	for i, q := range t.Queues {
		if q.Name == "" {
			return nil, fmt.Errorf("queues[%d]: name is required", i)
		}
		if q.Backend.Kind == "" {
			return nil, fmt.Errorf("queues[%d] %q: backend.kind is required", i, q.Name)
		}
	}
	return &t, nil
}
