// Package evaluate runs one complete evaluation over a merged dataset:
// event-log validation, reconciliation against declared durations, and
// per-task metrics with significance tests.
//
// A run never aborts on a single bad record. Every skipped or omitted
// computation is recorded as an Omission on the Report so the final
// summary can enumerate what was left out and why.
package evaluate
