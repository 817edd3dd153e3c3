// Package server provides the observer HTTP API for a cartrush engine.
//
// This package is internal to cartrush and handles all HTTP concerns:
//
//   - REST API: JSON status, log and session endpoints under "/api"
//   - Server-Sent Events: Real-time status and log events at "/api/sse"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the cartrush library should not need to interact with this
// package directly. The server is started by [cartrush.Engine.Serve].
package server
