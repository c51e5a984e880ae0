// Package runner executes many independent conversations concurrently.
//
// A Job wraps one group chat or orchestrated task. The Runner bounds how
// many jobs run at once, lets callers cancel a job by ID and archives each
// finished transcript to a session.Store at teardown.
//
// # Responsibilities
//   - Bounded concurrent execution (errgroup with a limit)
//   - Per-job cancellation
//   - Transcript persistence once a job ends, even when it was cancelled
//
// Conversations share nothing; each job builds its own manager or
// orchestrator run.
package runner
