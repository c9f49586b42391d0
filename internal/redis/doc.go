// Package redis implements the Redis-backed counter cache, pending-write queue and bus.
//
// Each poll lives in two hashes: "<id>" holds the prompt, creation time and choice
// texts, "<id>:counts" holds "total" and one "choice:<i>" field per choice. The counts
// hash is the authoritative "is cached" signal. Increments run as a Lua script so a
// vote never creates a field and total moves together with the choice.
//
// Polls with unflushed increments sit in the "pending_writes" sorted set, scored by
// increments since the last flush. Counts payloads travel on "vote:<id>" pub/sub
// channels and new poll ids on "poll:new".
package redis
