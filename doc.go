// Package vectorstore is the control plane of a vector-index engine
// layered over ScyllaDB.
//
// The system maintains one in-memory vector index per indexed table,
// fed by change-feed monitors that poll the database. All index
// lifecycle decisions (create, delete, lookup) flow through a single
// orchestration actor, the engine, which owns the authoritative
// registry of live indexes:
//
//	monitor/indexes ──▶ engine ──▶ index actor ◀── monitor/items
//	                      │
//	                      └──▶ modify (durable metadata)
//
// Every long-running component is an actor: a goroutine consuming one
// mailbox, stopped by a distinguished stop message and awaited through
// a task handle (package actor). The supervisor watches all attached
// actor tasks for abnormal termination.
//
// This package holds the identifiers and parameter types shared across
// the actors, plus the structured logger used throughout.
package vectorstore
