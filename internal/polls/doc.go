// Package polls is the application layer of the counter engine.
//
// Service creates and reads polls cache-aside, Coordinator applies votes to
// the counter cache and propagates them, and Drainer persists dirty counts
// to the durable store in the background (write-behind).
package polls
