// Package orchestrator holds the registry of export downloads and the state
// machine that governs them.
//
// Every mutation goes through a named action: [Orchestrator.Start],
// [Orchestrator.Prepare], [Orchestrator.Begin], [Orchestrator.UpdateProgress],
// [Orchestrator.Complete], [Orchestrator.Fail], [Orchestrator.Cancel],
// [Orchestrator.Reset] and [Orchestrator.ResetAll]. Actions that arrive for an
// id that is no longer in flight are ignored, so a late Complete after a
// Cancel leaves the entry cancelled.
//
// # State machine
//
//	(absent) -> preparing | downloading
//	preparing -> downloading | completed | failed | cancelled
//	downloading -> completed | failed | cancelled
//	completed | failed | cancelled -> (absent), via Reset only
//
// Reset and ResetAll on an in-flight entry apply the cancel transition
// first, then remove the entry.
//
// # Progress
//
// UpdateProgress consults a per-id debounce table before applying a sample;
// a sample at 100% always passes. The aggregate [Orchestrator.TotalProgress]
// is the mean percentage over every entry in the registry.
package orchestrator
