// Package model defines the value types shared by the export pipeline.
//
// A download starts life as an [Options] value describing what the caller
// wants exported. [Options.Validate] rejects malformed requests before any
// state is created, and [NewID] derives the [ID] that the orchestrator keys
// its registry by.
//
// # Formats
//
// [Format] is a closed set:
//
//	csv    tabular text
//	excel  spreadsheet-compatible text (the csv encoding with a spreadsheet MIME type)
//	pdf    paginated text report
//
// [ParseFormat] returns a *[ConfigurationError] for anything else.
//
// # Status
//
//	preparing | downloading  -> in flight
//	completed | failed | cancelled  -> terminal
//
// An absent registry entry is the implicit idle state.
package model
