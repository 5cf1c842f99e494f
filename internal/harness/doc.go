// Package harness runs end-to-end evaluation scenarios for kmeval.
//
// A scenario is a YAML file describing a small experiment: task metadata,
// participants with their declared outcomes, optional event logs given as
// state steps, and assertions on the resulting run report. The harness
// builds the raw dataset, runs the full pipeline (merge, state machine
// validation, reconciliation, metrics and tests) with a fixed run ID and
// clock, and checks every assertion.
//
// # Scenario Format
//
//	name: scenario_a
//	description: KM time reduction halves the KM fraction
//	tasks:
//	  - {id: T1, optimal_time: 20, maximum_score: 100}
//	participants:
//	  - subject: S1
//	    task: T1
//	    condition: prototype
//	    total: 100
//	    pull: 20
//	    grade: 90
//	    steps:
//	      - {state: task_initialized}
//	      - {state: task_execution, seconds: 80}
//	      - {state: km_pull_activity, seconds: 20}
//	      - {state: task_conclusion}
//	assertions:
//	  - {type: metric, task: T1, metric: km_time_proportional_reduction, value: 50}
//
// Participants without steps have no event log.
//
// # Assertions
//
//   - metric: a task metric equals value (within an absolute tolerance), or
//     is omitted
//   - test: a significance test is significant, not significant, or omitted
//   - omission: an omission with the given scope, subject and metric exists
//   - validation_error: an event log was rejected with the given code
//   - warning: a reconciliation warning exists for key and field
//   - count: a report section has exactly count entries
//
// # Golden Files
//
// RunWithGolden compares a canonical JSON snapshot of the report structure
// against testdata/golden/{name}.golden. Run with -update to regenerate.
package harness
