// Package expr implements the filter expression engine used for one-shot
// queries and for subscription matching.
//
// The language is deliberately small: a match-all leaf, property equality,
// case-insensitive prefix match, and boolean AND. Expressions are pure and
// side-effect-free, which is what allows the same tree to be evaluated once
// per query and once per item change per subscription without coordination.
// Missing properties never raise an error - they simply do not match.
//
// Expressions serialise to a compact JSON node tree so they can travel
// inside protocol messages; see Serialise and Parse.
package expr
