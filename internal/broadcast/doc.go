// Package broadcast fans published counts out to WebSocket viewers.
//
// The Registry is an actor: a single goroutine owns every fanout channel and
// its viewer set, and all changes go through its command channel. A channel
// exists exactly while it has viewers; it holds one bus subscription whose
// relay goroutine hands payloads back to the actor for delivery. Each viewer
// has its own write goroutine and liveness monitor that evicts connections
// which stop answering pings.
package broadcast
