// Package store persists projects, protocol runs, step runs, feedback
// records, and policy packs.
//
// Status writes are guarded: SetProtocolStatus and SetStepStatus accept
// expected current statuses and fail with *domain.ConflictError when the
// row has moved on. Every concurrent writer (dispatcher, QA callbacks,
// recovery sweep) goes through the guard, so a stale actor loses the race
// instead of clobbering newer state.
package store
