// Package serializer provides pluggable encodings for the RPC Message type.
//
// Three implementations of IRPCSerializer are available:
//
//   - JSON (NewJSONSerializer): human readable, interoperable, the slowest.
//   - GOB (NewGOBSerializer): Go's native binary encoding, no manual field
//     bookkeeping.
//   - Binary (NewBinarySerializer): a custom flag-bit format writing only
//     the fields present in the message, optimized for speed and size.
//
// All three round-trip every protocol shape; the transport is configured
// with one of them at connection setup and both sides must agree.
package serializer
