// Package ir provides the canonical value model and content hashing for
// versioned records and registered queries.
//
// This package is the foundational layer: every other internal package
// imports ir, ir imports nothing internal.
//
// Key design constraints:
//   - Values form a sealed set (Null, String, Int, Float, Bool, Array, Object)
//   - Canonical JSON follows RFC 8785 key ordering (UTF-16 code units)
//   - Strings are NFC normalized before hashing
//   - Non-finite floats and unsupported Go types fail loudly
//   - Every digest is SHA-256 with a versioned domain prefix
package ir
