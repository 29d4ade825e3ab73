// Package model contains the records exchanged by the governance engine:
// checkpoints and their status machine, audit trail entries (memory
// snapshots, decision traces, escalations) and supervisor failure records.
//
// Every record is a plain value. Stores copy on save and load, so the only
// way to change a persisted checkpoint is a resolution performed by the
// checkpoint engine.
package model
