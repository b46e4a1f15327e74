// Package datastore wires the versioned record store, the query registry
// and the result-hash worker into one service.
//
// Search translates a caller's request against the resource schema, runs it
// at the current instant, and registers it so the result set can later be
// re-obtained by PID with Resolve. Resolve replays the stored query at the
// instant it was first evaluated.
//
// A Service is an explicit handle built from a config.Config. Holder swaps
// handles on Reconfigure; callers that fetched the old handle keep using it
// until they fetch again.
package datastore
