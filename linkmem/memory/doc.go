// Package memory implements the shared-memory components agents coordinate
// through: per-agent context, bounded history, sessions, presence leases and
// snapshots. Every component is a thin composition of single KV commands;
// the store is the only shared state and nothing is cached between calls.
//
// Key layout:
//
//	context:<agentId>    hash
//	history:<agentId>    list, bounded by max_history
//	session:<sessionId>  hash
//	presence:<agentId>   string with TTL
//	snapshot:<timestamp> string, bounded by retention
package memory
