// Package store keeps the latest session status and the recent log for
// observers, and fans both out to subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation with a bounded log ring
//   - [Status] and [LogEntry]: JSON representations served by the API
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block the scheduler).
//
// Users of the cartrush library should not need to interact with this
// package directly.
package store
