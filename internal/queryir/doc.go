// Package queryir provides the storage-independent query representation
// shared by the translator, the SQL backend and the query registry.
//
// ARCHITECTURE:
//
//	[free text / filters] → translate → [queryir.Compiled] → querysql → [SQLite]
//	                                            ↓
//	                                   registry (canonical JSON, hashed)
//
// A Compiled query is the unit that gets registered under a PID. Its
// canonical JSON form is what the registry stores and hashes, so the same
// logical query always produces the same bytes.
//
// SEALED INTERFACES:
//
// Predicate is sealed with a marker method. Only Eq, In, Range, And and Or
// implement it, which lets backends use exhaustive type switches.
//
// Predicate types:
//   - Eq:    field == value
//   - In:    field is one of values
//   - Range: field <op> value, op one of <, <=, >, >=
//   - And:   all predicates hold (empty = always true)
//   - Or:    any predicate holds (empty = never true)
//
// A nil Predicate matches every row.
package queryir
