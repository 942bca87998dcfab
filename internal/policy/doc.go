// Package policy resolves and evaluates governance policy for projects.
//
// The effective policy for a run merges three layers, later layers
// winning: the project's policy pack, project-level overrides, and an
// optional repo-local override file. Override layers pass through a key
// allowlist so a repo cannot smuggle unexpected keys into execution
// behavior. The merged document's stable hash is recorded on each run as
// an audit trail.
package policy
