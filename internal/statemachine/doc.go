// Package statemachine validates KM interaction event sequences.
//
// Every subject-task produces an ordered sequence of transition events. A
// valid sequence starts at task_initialized, ends at task_conclusion, and
// only moves along the edges in allowedTransitions:
//
//	task_initialized -> task_execution
//	task_execution   -> km_push_activity | km_pull_activity | task_conclusion
//	km_push_activity -> task_execution | km_pull_activity | task_conclusion
//	km_pull_activity -> task_execution | km_push_activity | task_conclusion
//
// Walking a valid sequence yields per-state cumulative durations, which the
// reconciler compares against the declared outcome record.
//
// Failures are isolated per subject-task: ValidateAll never lets one bad
// sequence abort the batch.
package statemachine
