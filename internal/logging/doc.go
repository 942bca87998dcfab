// Package logging wraps Zap with context-aware correlation fields.
//
// Protocol run and step identifiers attached to a context via WithRunID
// and WithStepID are emitted on every log line, so one grep over run_id
// reconstructs a protocol's full history across dispatcher, executor,
// and QA loop.
package logging
