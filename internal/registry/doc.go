// Package registry persists executed searches so their result sets can be
// re-obtained later by persistent identifier.
//
// A registered Query stores the compiled query, the instant it was
// evaluated at, and three digests: the query hash (the compiled query and
// resource, without the instant), the record-field hash (the projected
// schema) and the result-set hash. Registering a query whose three digests
// match an existing row returns that row instead of creating a new one.
//
// Registration is two-phase. The row is committed first and the PID is
// minted afterwards, so a minting failure leaves a resolvable row without a
// PID. Remint retries those rows.
//
// The result-set hash may be attached after registration (UpdateResultHash),
// typically by a HashWorker. A query without a result-set hash is valid and
// resolvable.
package registry
