// Package handoff implements the declarative rule engine that decides when
// a task should move from one worker type to another.
//
// The engine only decides: it evaluates enabled rules in ascending priority
// against a read-only TaskInfo and reports the target worker-type pattern of
// the first rule that fires. Locating a concrete worker and executing the
// transfer is the coordinator's job, which keeps this package free of
// scheduling state.
//
// Rule patterns are regular expressions matched against a worker's declared
// type string. They are compiled and validated when the rule is added, so a
// malformed pattern is rejected early instead of failing silently during
// evaluation. Trigger conditions are narrow, pluggable predicates: the
// built-ins scan the task description for keywords, check completed-step
// flags and metadata flags, and compare the handoff count. They are
// heuristics and can be replaced per deployment via RegisterCondition.
package handoff
