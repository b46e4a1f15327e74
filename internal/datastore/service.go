package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fwoerister/vdstore/internal/config"
	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/metrics"
	"github.com/fwoerister/vdstore/internal/pid"
	"github.com/fwoerister/vdstore/internal/queryir"
	"github.com/fwoerister/vdstore/internal/registry"
	"github.com/fwoerister/vdstore/internal/schema"
	"github.com/fwoerister/vdstore/internal/store"
	"github.com/fwoerister/vdstore/internal/translate"
)

// Clock supplies wall-clock time to the store and the registry.
type Clock interface {
	Now() time.Time
}

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     Clock
	minter    pid.Minter
	describer registry.PackageDescriber
}

// Option configures a Service.
type Option func(*options)

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink of every component.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the clock of the store and the registry.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMinter overrides the PID minter. Defaults to a LocalMinter with the
// configured prefix.
func WithMinter(m pid.Minter) Option {
	return func(o *options) { o.minter = m }
}

// WithDescriber overrides the package describer. Defaults to a
// StaticDescriber over the configured packages.
func WithDescriber(d registry.PackageDescriber) Option {
	return func(o *options) { o.describer = d }
}

// Service is the handle every caller operates on.
type Service struct {
	store     *store.Store
	registry  *registry.Registry
	worker    *registry.HashWorker
	asyncHash bool
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan error // Non-nil once Start ran
}

// Open builds a service from cfg. The hash worker is created but not
// started; see Start.
func Open(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.minter == nil {
		o.minter = pid.NewLocalMinter(cfg.PIDPrefix)
	}
	if o.describer == nil {
		o.describer = describerFromConfig(cfg.Packages)
	}

	storeOpts := []store.Option{
		store.WithRowsMax(cfg.RowsMax),
		store.WithLogger(o.logger),
		store.WithMetrics(o.metrics),
	}
	regOpts := []registry.Option{
		registry.WithMinter(o.minter),
		registry.WithDescriber(o.describer),
		registry.WithSiteURL(cfg.SiteURL),
		registry.WithLogger(o.logger),
		registry.WithMetrics(o.metrics),
	}
	if o.clock != nil {
		storeOpts = append(storeOpts, store.WithClock(o.clock))
		regOpts = append(regOpts, registry.WithClock(o.clock))
	}

	st, err := store.Open(cfg.StorePath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	reg, err := registry.Open(cfg.RegistryPath, regOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	s := &Service{
		store:     st,
		registry:  reg,
		asyncHash: cfg.AsyncHash,
		logger:    o.logger,
	}
	s.worker = registry.NewHashWorker(reg, s.hashQuery,
		registry.WithMaxAttempts(cfg.HashMaxAttempts),
		registry.WithRetryDelay(cfg.HashRetryDelay),
		registry.WithWorkerLogger(o.logger),
		registry.WithWorkerMetrics(o.metrics))
	return s, nil
}

func describerFromConfig(packages map[string]config.Package) registry.StaticDescriber {
	d := make(registry.StaticDescriber, len(packages))
	for id, p := range packages {
		d[id] = registry.PackageInfo{
			Title:        p.Title,
			Author:       p.Author,
			Maintainer:   p.Maintainer,
			ResourceName: p.ResourceName,
			Extras:       p.Extras,
		}
	}
	return d
}

// Start re-enqueues every query still lacking a result hash and runs the
// hash worker in the background until Close.
func (s *Service) Start(ctx context.Context) error {
	if s.done != nil {
		return fmt.Errorf("start: already started")
	}
	if _, err := s.worker.Resume(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan error, 1)
	go func() { s.done <- s.worker.Run(ctx) }()
	return nil
}

// Close stops the hash worker after it has processed the queued tasks and
// closes both databases. Without Start, queued tasks are processed on the
// calling goroutine.
func (s *Service) Close() error {
	s.worker.Close()

	var errs []error
	if s.done != nil {
		if err := <-s.done; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("hash worker: %w", err))
		}
		s.cancel()
	} else if err := s.worker.Drain(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("hash worker: %w", err))
	}

	if err := s.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close registry: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Store returns the record store of the service.
func (s *Service) Store() *store.Store { return s.store }

// Registry returns the query registry of the service.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Worker returns the result-hash worker of the service.
func (s *Service) Worker() *registry.HashWorker { return s.worker }

// Create registers resource id keyed by primaryKey and, when fields is not
// empty, sets its schema.
func (s *Service) Create(ctx context.Context, id, primaryKey string, fields []schema.FieldDefinition) (store.Resource, error) {
	res, err := s.store.CreateResource(ctx, id, primaryKey)
	if err != nil {
		return store.Resource{}, err
	}
	if len(fields) > 0 {
		if err := s.store.UpdateSchema(ctx, id, primaryKey, fields); err != nil {
			return store.Resource{}, err
		}
	}
	return res, nil
}

// Upsert writes a batch of records. See store.Store.Upsert.
func (s *Service) Upsert(ctx context.Context, id string, records []ir.Object, dryRun bool) (store.UpsertResult, error) {
	return s.store.Upsert(ctx, id, records, dryRun)
}

// Delete closes the open versions matching a structured filter. An empty
// filter closes every open version. Filter keys the schema does not declare
// match stored values untyped, so records of a resource without a schema
// can still be deleted by key.
func (s *Service) Delete(ctx context.Context, id string, filters map[string]any) (int64, error) {
	info, err := s.store.ResourceFields(ctx, id, nil)
	if err != nil {
		return 0, err
	}
	pred, err := translate.Filter(filters, undeclaredFields(info.Fields, filters))
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return s.store.Delete(ctx, id, pred)
}

// undeclaredFields extends fields with an untyped definition for every
// filter key the schema lacks. Reserved keys are left out and stay unknown.
func undeclaredFields(fields []schema.FieldDefinition, filters map[string]any) []schema.FieldDefinition {
	idx := schema.Index(fields)
	out := fields
	for key := range filters {
		if _, ok := idx[key]; ok || schema.IsReserved(key) {
			continue
		}
		out = append(slices.Clip(out), schema.FieldDefinition{ID: key})
	}
	return out
}

// Fields returns the schema of id at asOf, or now when asOf is nil.
func (s *Service) Fields(ctx context.Context, id string, asOf *time.Time) (store.ResourceInfo, error) {
	return s.store.ResourceFields(ctx, id, asOf)
}

// History returns every version of one business key.
func (s *Service) History(ctx context.Context, id string, key any) ([]store.Version, error) {
	return s.store.History(ctx, id, key)
}

// hashQuery replays q over its full, unpaginated result set.
func (s *Service) hashQuery(ctx context.Context, q registry.Query) (string, error) {
	return s.resultHash(ctx, q.ResourceID, q.Compiled, q.AsOf)
}

func (s *Service) resultHash(ctx context.Context, id string, compiled queryir.Compiled, asOf time.Time) (string, error) {
	h := ir.NewResultHasher()
	if err := s.store.Scan(ctx, id, compiled, asOf, h.Add); err != nil {
		return "", fmt.Errorf("result hash: %w", err)
	}
	return h.Sum(), nil
}
