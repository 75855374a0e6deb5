// Package state tracks the health of a beacon session.
//
// # Overview
//
// The resource stores hold the data; this package holds what the UI needs
// to explain that data: whether the server answers, whether it accepted the
// credential, and whether the push channel is open. It is the coordination
// point where REST outcomes and push status meet the renderer.
//
// # Inputs
//
//	Producers:                      Consumer (UI):
//	┌─────────────────────┐        ┌──────────────────┐
//	│ store REST calls    │        │                  │
//	│   → store.Record()  │───────→│ store.Snapshot() │
//	│ push.Manager status │ (mutex)│   → Mode()       │
//	│   → store.SetPush() │        │   → render       │
//	└─────────────────────┘        └──────────────────┘
//
// # Record Semantics
//
// Record classifies the outcome of a single REST call:
//
//	nil                     → reachable, credential accepted, failures reset
//	torrentino.ErrUnauthorized → AuthInvalid set, failures reset
//	other *torrentino.APIError → reachable; the error belongs to the caller
//	context.Canceled        → ignored (teardown, not connectivity)
//	anything else           → transport failure, ConsecutiveFailures++
//
// Two consecutive transport failures mark the session offline, matching
// the threshold the dashboard has always used.
//
// # Modes
//
// Snapshot.Mode folds everything into one display state, in priority
// order: auth invalid, offline, polling (push retries exhausted), live,
// starting, reconnecting. "Polling" must look different from "starting" so
// a user can tell a dead push channel from data that has not arrived yet.
//
// # Concurrency Model
//
// The Store uses a readers-writer lock and is safe to construct with its
// zero value. Snapshot returns a copy; LastError is wrapped so callers can
// not alias the stored error.
package state
