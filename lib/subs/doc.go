// Package subs implements the subscription manager: live, leased
// subscriptions fed by the item store's change stream.
//
// Each subscription owns a bounded delivery queue and a pump goroutine, so
// one slow or unreachable subscriber can never block delivery to others -
// the fanout path only ever performs a non-blocking enqueue. A subscription
// leaves the table in exactly two ways: an explicit Cancel, or the periodic
// expiry sweep after its lease lapses. The sweep is advisory liveness, not
// a hard real-time guarantee; deltas may still arrive between the logical
// expiry and the next sweep. In both exits, deltas already queued are
// drained to the sink before the pump stops.
package subs
