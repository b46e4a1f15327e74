package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/registry"
	"github.com/fwoerister/vdstore/internal/schema"
	"github.com/fwoerister/vdstore/internal/store"
	"github.com/fwoerister/vdstore/internal/translate"
)

// SearchRequest is a search on one resource.
type SearchRequest struct {
	ResourceID string
	translate.Request
	Offset int
	// Limit caps the returned page. Zero means the store's rows-max.
	Limit int
}

// SearchResult is one page of a registered search.
type SearchResult struct {
	Rows   []ir.Object
	Fields []schema.FieldDefinition
	// Total counts the rows of the whole result set.
	Total int64
	AsOf  time.Time
	// PID cites the search: the minted PID, or the query id while
	// minting is pending.
	PID   string
	Query registry.Query
}

// Search runs req at the current instant and registers it.
//
// The result-set hash covers the whole unpaginated result. It is computed
// before registering, or with async hashing enabled, by the hash worker
// after registering; the search then returns without waiting for it.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	info, err := s.store.ResourceFields(ctx, req.ResourceID, nil)
	if err != nil {
		return SearchResult{}, err
	}
	compiled, err := translate.Translate(req.Request, info.Fields)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %q: %w", req.ResourceID, err)
	}

	page, err := s.store.Query(ctx, req.ResourceID, store.QueryOptions{
		Predicate:    compiled.Predicate,
		Projection:   compiled.Projection,
		Sort:         compiled.Sort,
		Distinct:     compiled.Distinct,
		Offset:       req.Offset,
		Limit:        req.Limit,
		IncludeTotal: true,
	})
	if err != nil {
		return SearchResult{}, err
	}

	var hash string
	if !s.asyncHash {
		if hash, err = s.resultHash(ctx, req.ResourceID, compiled, page.AsOf); err != nil {
			return SearchResult{}, fmt.Errorf("search %q: %w", req.ResourceID, err)
		}
	}

	q, err := s.registry.Register(ctx, registry.RegisterRequest{
		ResourceID: req.ResourceID,
		Compiled:   compiled,
		AsOf:       page.AsOf,
		ResultHash: hash,
		Fields:     page.Fields,
	})
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %q: %w", req.ResourceID, err)
	}
	if q.ResultSetHash == "" && !s.worker.Enqueue(q.ID) {
		s.logger.Warn("hash worker closed, result hash left pending", "query_id", q.ID)
	}

	return SearchResult{
		Rows:   page.Rows,
		Fields: page.Fields,
		Total:  page.Total,
		AsOf:   page.AsOf,
		PID:    q.Ref(),
		Query:  q,
	}, nil
}

// ResolveOptions controls how a registered query is replayed.
type ResolveOptions struct {
	Offset int
	Limit  int
	// Verify recomputes the result-set hash and compares it with the
	// registered one.
	Verify bool
}

// ResolveResult is one page of a replayed query.
type ResolveResult struct {
	Query registry.Query
	Rows  []ir.Object
	Total int64
	// Verified is true when Verify was requested, the query has a result
	// hash and the replay matched it.
	Verified bool
}

// Resolve replays the query ref (a PID or query id) at the instant it was
// registered. With Verify, a replay whose hash differs from the registered
// one returns the rows together with a HashMismatchError. A query whose
// hash is still pending resolves unverified.
func (s *Service) Resolve(ctx context.Context, ref string, opts ResolveOptions) (ResolveResult, error) {
	q, err := s.registry.Resolve(ctx, ref)
	if err != nil {
		return ResolveResult{}, err
	}

	page, err := s.store.Query(ctx, q.ResourceID, store.QueryOptions{
		Predicate:    q.Compiled.Predicate,
		Projection:   q.Compiled.Projection,
		Sort:         q.Compiled.Sort,
		Distinct:     q.Compiled.Distinct,
		Offset:       opts.Offset,
		Limit:        opts.Limit,
		AsOf:         q.AsOf,
		IncludeTotal: true,
	})
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	result := ResolveResult{Query: q, Rows: page.Rows, Total: page.Total}

	if !opts.Verify || q.ResultSetHash == "" {
		return result, nil
	}
	hash, err := s.hashQuery(ctx, q)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if hash != q.ResultSetHash {
		return result, &HashMismatchError{Ref: ref, Expected: q.ResultSetHash, Actual: hash}
	}
	result.Verified = true
	return result, nil
}
