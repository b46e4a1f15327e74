package datastore

import (
	"sync/atomic"

	"github.com/fwoerister/vdstore/internal/config"
)

// Holder owns the current Service handle.
//
// Reconfigure builds a new service and swaps it in. Callers that fetched
// the previous handle with Get keep a working but stale handle; the
// previous service is returned to the owner to close.
type Holder struct {
	current atomic.Pointer[Service]
	opts    []Option
}

// NewHolder opens a service from cfg. opts apply to every service the
// holder builds.
func NewHolder(cfg config.Config, opts ...Option) (*Holder, error) {
	s, err := Open(cfg, opts...)
	if err != nil {
		return nil, err
	}
	h := &Holder{opts: opts}
	h.current.Store(s)
	return h, nil
}

// Get returns the current service.
func (h *Holder) Get() *Service {
	return h.current.Load()
}

// Reconfigure opens a service from cfg, makes it current and returns the
// previous one. On error the current service is unchanged.
func (h *Holder) Reconfigure(cfg config.Config) (*Service, error) {
	s, err := Open(cfg, h.opts...)
	if err != nil {
		return nil, err
	}
	return h.current.Swap(s), nil
}

// Close closes the current service.
func (h *Holder) Close() error {
	if s := h.current.Load(); s != nil {
		return s.Close()
	}
	return nil
}
