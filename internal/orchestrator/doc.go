// Package orchestrator drives protocol runs from planning to a terminal
// status.
//
// The dispatcher owns all status writes on the hot path and performs them
// through the store's guarded transitions, so callbacks arriving out of
// order or twice resolve to exactly one winner. Protocol failure is never
// commanded directly: it only falls out of step aggregation when every
// step is terminal and at least one failed.
package orchestrator
