package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// HashAlgorithm names the digest persisted next to every registered query
// so stored hashes can be re-verified after an algorithm migration.
const HashAlgorithm = "sha256"

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRecord    = "vdstore/record/v1"
	DomainQuery     = "vdstore/query/v1"
	DomainFields    = "vdstore/fields/v1"
	DomainResultSet = "vdstore/resultset/v1"
)

// newDomainHash starts a SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte prevents domain/data boundary ambiguity.
func newDomainHash(domain string) hash.Hash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	return h
}

func hashWithDomain(domain string, data []byte) string {
	h := newDomainHash(domain)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonicalizes v and returns its domain-separated digest.
// Returns an error if v cannot be canonicalized.
func Hash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// RecordHash computes the content hash of a record payload.
// Used to detect no-op upserts: equal payloads (in any key order) yield
// equal hashes.
func RecordHash(payload Object) (string, error) {
	return Hash(DomainRecord, payload)
}

// QueryHash computes the dedup hash of a compiled query's canonical form.
func QueryHash(canonicalQuery any) (string, error) {
	return Hash(DomainQuery, canonicalQuery)
}

// FieldsHash computes the hash of a projected schema.
func FieldsHash(fields any) (string, error) {
	return Hash(DomainFields, fields)
}

// ResultSetHash computes the integrity hash of an ordered row sequence.
// Equivalent to feeding every row through a ResultHasher.
func ResultSetHash(rows []Object) (string, error) {
	h := NewResultHasher()
	for _, row := range rows {
		if err := h.Add(row); err != nil {
			return "", err
		}
	}
	return h.Sum(), nil
}

// ResultHasher hashes a row sequence incrementally so large result sets are
// never materialized. The digest equals hashing the canonical JSON array of
// all rows under DomainResultSet.
type ResultHasher struct {
	h     hash.Hash
	count int
}

// NewResultHasher creates an empty result-set hasher.
func NewResultHasher() *ResultHasher {
	h := newDomainHash(DomainResultSet)
	h.Write([]byte{'['})
	return &ResultHasher{h: h}
}

// Add appends one row to the sequence.
func (r *ResultHasher) Add(row Object) error {
	canonical, err := MarshalCanonical(row)
	if err != nil {
		return fmt.Errorf("hash row %d: %w", r.count, err)
	}
	if r.count > 0 {
		r.h.Write([]byte{','})
	}
	r.h.Write(canonical)
	r.count++
	return nil
}

// Count returns the number of rows added so far.
func (r *ResultHasher) Count() int {
	return r.count
}

// Sum closes the sequence and returns its hex digest.
// The hasher must not be used after Sum.
func (r *ResultHasher) Sum() string {
	r.h.Write([]byte{']'})
	return hex.EncodeToString(r.h.Sum(nil))
}
