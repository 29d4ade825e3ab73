// Package idgen issues the prefixed identifiers used for checkpoints,
// snapshots, traces, failures and events. Tests may swap the generator.
package idgen
