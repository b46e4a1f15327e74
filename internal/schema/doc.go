// Package schema describes resource fields and casts incoming record values
// to their declared types.
//
// A field's effective type is its type override when one is set, otherwise
// its declared type. Casting never aborts a batch: blank numeric input
// becomes null, and a value that cannot be cast is kept as given and
// reported as a ConversionWarning.
package schema
