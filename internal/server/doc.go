// Package server is the HTTP surface of pollpulse: the poll JSON API, the
// viewer WebSocket endpoints, health probes and metrics.
package server
