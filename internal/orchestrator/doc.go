// Package orchestrator drives investigation requests end to end.
//
// The Planner owns every Conversation: it interprets the request into
// tasks, lays them out into phases, dispatches each phase concurrently
// through the delegator, resolves conflicting results and adapts the plan
// when execution deviates from it.
//
// Example usage:
//
//	p := orchestrator.New(capability.Default(),
//		orchestrator.WithWorkers(workers.NewOfflineWorkers(0)),
//	)
//	conv, err := p.Plan(ctx, "Assess acquisition risk for Acme Corp")
//	if err != nil {
//		return err
//	}
//	err = p.ExecutePlan(ctx, conv)
//	outcome := conv.Outcome()
package orchestrator
