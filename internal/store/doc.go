// Package store caches server resources for the dashboard and keeps them
// consistent while three sources race to update them.
//
// # Sources of truth
//
// Every cached entity can change through:
//
//   - a REST snapshot (list page or detail) requested by the client
//   - an optimistic local mutation issued by the user
//   - a push message applied as it arrives
//
// Resource[F, T] merges the three for list-shaped entities (tickets,
// torrents, audit records); Value[T] does the same for single status
// documents (pipeline, orchestrator).
//
// # Lists
//
// FetchList either replaces the list atomically or, when appending, merges
// the next page and skips ids already present. Cursor tracks how many rows
// the server has handed out, so HasMore stays correct after local inserts
// and removals. An append waits for any list request already in flight and
// continues from the cursor that request leaves behind. A response
// overtaken by a newer replace or a filter change is dropped and its caller
// gets ErrStaleList. A failed fetch is dropped too: the previous items stay
// visible and Err carries the message.
//
// # Details
//
// FetchDetail for the id already shown refreshes in the background; Detail
// is never cleared during that refresh. Switching to another id clears it
// first so a stale entity is never shown under the wrong id.
//
// # Mutations
//
// Mutate marks the entry pending, applies the optimistic value if one is
// given and calls the server. On failure the entry is restored. On success
// it is reconciled with the server's copy, either the one the call returned
// or a fresh GET. Only one mutation per id may be in flight; a second one
// fails with ErrMutationPending. While an entry is pending, list refreshes
// keep the local value.
//
// # Push
//
// Patch merges a push message into an entry that is already cached and
// ignores unknown ids: push never inserts. Drop removes an entry on a
// server-side delete.
//
// # Observation
//
// OnChange handlers run after every transition, outside the store's lock,
// so a handler may read a Snapshot. Snapshots are deep copies.
package store
