// Package orchestrator runs the story loop.
//
// # Overview
//
// An Orchestrator repeatedly selects the highest-priority open story from
// the ledger, hands a prompt to the agent, verifies the workspace with the
// quality gate engine and records the result. It stops when every story
// passes, the iteration budget is spent, every remaining story is blocked,
// a fatal error occurs, or it is told to stop.
//
// # States
//
//	Idle → Selecting → Invoking → Verifying → Updating → (Selecting | Completed | Halted)
//
// An agent failure skips Verifying and may loop Updating → Invoking for a
// retry of the same story. Every attempt is one iteration and counts
// against the budget.
//
// # Commit order
//
// Updating persists a cloned ledger first, then appends the progress
// record, then pushes to the tracker and publishes an event. A stop that
// lands while the agent or the gates are running discards that iteration,
// so the ledger on disk never reflects half an iteration.
//
// # Concurrency
//
// Only the loop goroutine mutates the ledger while a run is active. Readers
// (Status, Stories, the MCP and HTTP surfaces) see the last committed
// Snapshot through an atomic pointer and never block the loop.
package orchestrator
