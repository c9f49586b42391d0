// Package database provides the durable poll store.
//
// PollRepo is backed by PostgreSQL via pgx, with schema migrations run by tern
// under an advisory lock. SQLitePollRepo is a pure-Go SQLite backend for local
// development and container-free tests. Both implement domain.PollRepository.
package database
