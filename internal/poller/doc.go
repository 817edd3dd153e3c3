// Package poller runs acquisition sessions against the shopping-cart API.
//
// A session fires add-item attempts on a fixed cadence, bounded by a
// shrinking concurrency limit, until one of them is confirmed in the cart,
// the caller stops it, the maximum duration elapses, or the API answers with
// a terminal error.
//
// The main components are:
//
//   - [Scheduler]: owns one [Session] and its tick loop
//   - [SlotManager]: in-flight bound and optional dispatch rate cap
//   - [ThrottleController]: pauses and concurrency reduction under throttling
//   - [FailureCounter]: consecutive non-throttle failures for warnings
//   - [Confirmer]: read-after-write check against the cart
//   - [Reporter]: deduplicated status events for an [Observer]
//
// Attempt goroutines never touch session state. They post messages onto a
// single channel drained by the scheduler goroutine, which applies every
// mutation and emits every event.
//
// Users of the cartrush library should not need this package directly.
package poller
