// Package translate turns a self-describing JSON payload into a parameterised
// INSERT statement for a table whose columns are only known at runtime.
//
// The payload must be a JSON object. Its keys, in document order, become the
// column list; its values become positional bound parameters. Values are
// carried as a closed tagged variant (Value) so that every consumer switches
// over the same four kinds: bool, int64, float64 and string.
//
// Translation is all-or-nothing: the first unsupported value rejects the whole
// message and no Statement is produced.
//
// Identifiers are never bound parameters, so table and column names are quoted
// with the target dialect's identifier quote and rejected if they could escape
// it. Values are always bound, never interpolated.
package translate
