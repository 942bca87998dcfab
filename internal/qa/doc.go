// Package qa runs quality gates over finished steps and routes their
// verdicts.
//
// A step reporting success lands in needs_qa, where registered gates
// inspect the worktree. Failing verdicts feed an auto-fix budget: the
// step is re-dispatched with its retry counter bumped until the budget
// is spent, after which the step fails, the protocol blocks, and a
// feedback record is written for operator follow-up.
package qa
