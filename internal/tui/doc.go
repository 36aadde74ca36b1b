// Package tui provides the terminal user interface for sleuth's run command.
//
// The TUI is a read-mostly view over one conversation. It shows:
//   - the plan phases and which one is executing
//   - every task with its worker role, status, confidence and duration
//   - held adaptations awaiting a decision
//   - a log of recent planner events
//   - the final outcome once the conversation settles
//
// Keys: q or Ctrl+C quits, c cancels the conversation, a and r approve or
// reject the oldest held adaptation.
//
// Usage:
//
//	m := tui.New(conv.Record(), tui.WithCancel(planner.Cancel), tui.WithResponder(approvals.SubmitResponse))
//	program := tui.NewProgram(m, planner.Events(), approvals.RequestCh())
//	go func() {
//	    err := planner.ExecutePlan(ctx, conv)
//	    program.Send(tui.DoneMsg{Outcome: conv.Outcome(), Err: err})
//	}()
//	_, err := program.Run()
package tui
