// Package hitl is a human-in-the-loop governance layer for autonomous
// agents. It sits between an agent decision and its execution:
//
//   - policy     - risk evaluation deciding whether a human must approve
//   - checkpoint - the PENDING to terminal state machine with its audit trail
//   - session    - time bounded waits on pending checkpoints
//   - recovery   - retries, fallbacks and failure records for agent operations
//
// End-users typically interact with the high-level Service facade exposed by
// the root package:
//
//	srv, _ := hitl.New(ctx, nil)
//	out, _ := srv.Propose(ctx, &hitl.Proposal{ModuleID: "billing", ActionType: "refund", Confidence: 0.9, Payload: payload})
//	if out.IsPending() {
//		sess, _ := srv.Sessions().Wait(ctx, out.Session.ID, time.Minute)
//		_ = sess.Result
//	}
package hitl
