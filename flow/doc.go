// Package flow provides the bidirectional flow abstraction of go-meter.
//
// A flow is identified by a direction-invariant key computed from packet
// headers. The Table correlates admitted packets into Records, updates the
// statistical accumulators and early-sequence buffers, drives protocol
// dissection and user hooks, and expires flows based on idle and active
// timeouts. Every Table is owned by exactly one goroutine; expired records
// leave it through the emit callback configured at creation time and must
// not be touched by the owner afterwards.
package flow
