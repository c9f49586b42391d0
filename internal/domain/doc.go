// Package domain defines the core poll types and the contracts between components.
//
// Concept-oriented files (poll.go, counts.go, store.go, pubsub.go, errors.go) hold shared
// types and cross-cutting interfaces. No implementation code - just contracts.
package domain
