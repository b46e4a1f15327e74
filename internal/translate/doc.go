// Package translate turns user-facing search input into a queryir.Compiled
// query against a resource schema.
//
// Two filter modes exist:
//   - free text: one value matched against every schema field (Or of Eq)
//   - structured: a map of field id to value, list, prefixed range string
//     ("<=15", ">3") or operator map ({">=": 15})
//
// Numeric fields coerce their literals to floats. A literal that does not
// parse stays as given and compares as a string; translation never fails
// on a bad literal, only on structural problems such as unknown fields.
package translate
