// Package orchestrator runs a task with a team of agents under the direction
// of an oracle model.
//
// The orchestrator first asks the oracle for the known facts and a plan and
// broadcasts both as a ledger. Every turn it asks for a structured Judgment
// naming the next speaker and an instruction. The instruction is delivered
// to that speaker alone; once the speaker replied, instruction and reply are
// mirrored to the rest of the team.
//
// Turns move through the steps ObtainNextStep, PreExecutionChecks,
// ExecuteStep and PostExecutionChecks. Hooks decide between continuing,
// terminating and replanning. The default hooks count judgments without
// progress and failed replies against a shared stall budget; once it is
// spent, IntrospectAndReset regenerates facts and plan and clears the
// transcript.
//
// Example:
//
//	o, err := orchestrator.New(oracle, []core.Agent{coder, reviewer},
//		func(o *orchestrator.Options) {
//			o.TurnBudget = 20
//			o.FinalAnswer = true
//		})
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := o.Run(ctx, "Add input validation to the signup handler")
//	fmt.Println(res.Status(), res.FinalAnswer)
package orchestrator
