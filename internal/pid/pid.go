// Package pid defines the persistent-identifier minting collaborator used by
// the query registry.
//
// The registry treats minting as fallible and slow: a Query row is
// committed before Mint is called, so a failure leaves a resolvable row
// without a PID.
package pid

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Minter mints persistent identifiers for landing pages.
type Minter interface {
	// Mint registers landingURL and returns the new PID.
	Mint(ctx context.Context, landingURL string) (string, error)
	// Attach stores key=value on an existing PID.
	Attach(ctx context.Context, pid, key, value string) error
}

// LocalMinter mints "<prefix>/<uuidv7>" identifiers without an external
// service. Landing URLs and attached values are kept in memory.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type LocalMinter struct {
	prefix string

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	landingURL string
	values     map[string]string
}

// NewLocalMinter creates a minter issuing PIDs under prefix.
// Trailing slashes are trimmed from prefix.
func NewLocalMinter(prefix string) *LocalMinter {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = "local"
	}
	return &LocalMinter{prefix: prefix, records: map[string]*record{}}
}

// Mint returns a fresh time-ordered PID for landingURL.
func (m *LocalMinter) Mint(ctx context.Context, landingURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	pid := m.prefix + "/" + id.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[pid] = &record{landingURL: landingURL, values: map[string]string{}}
	return pid, nil
}

// Attach stores key=value on pid. Unknown PIDs are an error.
func (m *LocalMinter) Attach(ctx context.Context, pid, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pid]
	if !ok {
		return fmt.Errorf("attach %s: unknown pid %q", key, pid)
	}
	rec.values[key] = value
	return nil
}

// LandingURL returns the URL pid was minted for.
func (m *LocalMinter) LandingURL(pid string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pid]
	if !ok {
		return "", false
	}
	return rec.landingURL, true
}

// Value returns the value attached to pid under key.
func (m *LocalMinter) Value(pid, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pid]
	if !ok {
		return "", false
	}
	v, ok := rec.values[key]
	return v, ok
}
