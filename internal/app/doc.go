// Package app provides the composition root for beacon.
//
// # Overview
//
// The package wires configuration, the torrentino REST client, the push
// connection, the resource stores and the pollers into a Session, then hands
// that Session to a consumer: the dashboard, `beacon watch` or
// `beacon status`. Nothing here is global; every consumer receives the
// Session it was given and closes it when done.
//
// # Session lifecycle
//
//	NewSession()   build client, push manager, stores and pollers (no I/O)
//	     │
//	Start(ctx)     subscribe stores to push, start pollers, Connect()
//	     │
//	     ├──> push message ──> dispatch ──> Tickets/Torrents/Pipeline/Orchestrator.Apply
//	     ├──> push opened  ──> resync lists and details, trigger pollers
//	     └──> poll tick    ──> orchestrator, pipeline, lists while push is down
//	     │
//	Close()        unsubscribe, stop pollers, Disconnect(), wait for resyncs
//
// Close is ordered so no message reaches a store after it returns.
//
// # Credentials
//
// The API key comes from, in order of precedence, the --api-key flag, a key
// saved from the dashboard in prefs.toml, and the config file or
// BEACON_API_KEY. SetCredential swaps it for REST and the next push
// handshake, clears the auth failure and reloads every store.
//
// # Errors
//
// Run returns configuration and client construction errors. Everything that
// happens after Start is reported to the stores and to state.Store, which
// the dashboard renders; the session itself keeps running.
package app
