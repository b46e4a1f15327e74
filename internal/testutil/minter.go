package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrMintUnavailable is returned by FakeMinter while failures are queued.
var ErrMintUnavailable = errors.New("pid service unavailable")

// FakeMinter is an in-memory PID minter for tests.
//
// PIDs are "<prefix>/<n>" with n counting successful mints from 1. Fail
// queues failures for the next Mint calls.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeMinter struct {
	mu       sync.Mutex
	prefix   string
	minted   int
	failures int
	urls     []string
	attached map[string]map[string]string
}

// NewFakeMinter creates a minter issuing PIDs under prefix.
func NewFakeMinter(prefix string) *FakeMinter {
	if prefix == "" {
		prefix = "test"
	}
	return &FakeMinter{prefix: prefix, attached: map[string]map[string]string{}}
}

// Mint returns the next PID for landingURL, or ErrMintUnavailable if a
// failure is queued.
func (m *FakeMinter) Mint(ctx context.Context, landingURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.urls = append(m.urls, landingURL)
	if m.failures > 0 {
		m.failures--
		return "", ErrMintUnavailable
	}
	m.minted++
	return fmt.Sprintf("%s/%d", m.prefix, m.minted), nil
}

// Attach records key=value on pid.
func (m *FakeMinter) Attach(ctx context.Context, pid, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attached[pid] == nil {
		m.attached[pid] = map[string]string{}
	}
	m.attached[pid][key] = value
	return nil
}

// Fail makes the next n Mint calls fail.
func (m *FakeMinter) Fail(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Minted returns the number of successful mints.
func (m *FakeMinter) Minted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minted
}

// URLs returns every landing URL passed to Mint, in call order.
func (m *FakeMinter) URLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}

// Attached returns a copy of the values attached to pid.
func (m *FakeMinter) Attached(pid string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.attached[pid]))
	for k, v := range m.attached[pid] {
		out[k] = v
	}
	return out
}
