// Package farm implements the sharded request-processing worker. A farm is
// a fixed-size set of worker instances that turn request items into result
// items through the item store, partitioning the request space by a
// deterministic hash of the request id.
//
// Contracts:
//
//	Requests, results and cancellations are ordinary store items with
//	well-known data types (Farm.Request, Farm.Result, Farm.Cancellation)
//	and a RequestId property for filtering. All result revisions for a
//	request share one item name, so the latest revision by USN is the
//	authoritative status.
//
// State machine per request:
//
//	Received -> Processing -> Completed | Faulted | Cancelled
//
//	A worker acknowledges every owned request with a Received result, then
//	its dispatch loop picks the oldest Received request and runs the
//	workflow. Workflow errors and panics become Faulted results with fault
//	detail attached; they never stop the loop.
//
// Dispatch model:
//
//	Change notifications, the fallback timer and explicit Wake calls all
//	feed one bounded wake channel consumed by a single goroutine, so at
//	most one workflow executes at a time per worker instance. The loop is
//	self-throttled to run at most once per ThrottlePeriod; the fallback
//	timer guarantees forward progress when notifications are lost.
//
// Cancellation:
//
//	Saving a cancellation item asks the owning worker to stop the request:
//	before processing starts the request resolves directly to Cancelled,
//	during processing the workflow's context is cancelled cooperatively.
//
// A request with no owning farm member currently running stays Received
// indefinitely; there is no timeout or requeue policy.
package farm
