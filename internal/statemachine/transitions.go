package statemachine

import "github.com/roach88/kmeval/internal/ir"

// Transition is a directed edge between two states.
type Transition struct {
	From ir.StateID
	To   ir.StateID
}

// allowedTransitions is the complete adjacency of the KM state machine.
// Any pair not listed here is rejected.
//
// km_pull_activity -> km_push_activity models an unsolicited push arriving
// while the participant is still reading pulled content.
var allowedTransitions = map[Transition]struct{}{
	{ir.StateTaskInitialized, ir.StateTaskExecution}: {},

	{ir.StateTaskExecution, ir.StateKMPush}:         {},
	{ir.StateTaskExecution, ir.StateKMPull}:         {},
	{ir.StateTaskExecution, ir.StateTaskConclusion}: {},

	{ir.StateKMPush, ir.StateTaskExecution}:  {},
	{ir.StateKMPush, ir.StateKMPull}:         {},
	{ir.StateKMPush, ir.StateTaskConclusion}: {},

	{ir.StateKMPull, ir.StateTaskExecution}:  {},
	{ir.StateKMPull, ir.StateKMPush}:         {},
	{ir.StateKMPull, ir.StateTaskConclusion}: {},
}

// Allowed reports whether from -> to is a permitted transition.
func Allowed(from, to ir.StateID) bool {
	_, ok := allowedTransitions[Transition{From: from, To: to}]
	return ok
}

// InitialState is the state every sequence must start in.
const InitialState = ir.StateTaskInitialized

// TerminalState is the state every sequence must end in.
const TerminalState = ir.StateTaskConclusion
