// Package api exposes the export facade over HTTP with gin.
//
// # Routes
//
//	POST   /exports               start one export, 202 with its id
//	POST   /exports/batch         start a batch, 202
//	GET    /exports               registry snapshot
//	GET    /exports/:id           one entry
//	GET    /exports/:id/artifact  the finished file
//	DELETE /exports/:id           cancel an in-flight export
//	POST   /exports/:id/reset     cancel and forget one entry
//	DELETE /exports               cancel and forget everything
//	GET    /healthz               liveness
//
// Exports run in the background; poll GET /exports/:id for progress.
package api
