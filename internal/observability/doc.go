// Package observability provides event logging, sync metrics, and
// user-facing failure notifications for the sync engine. It uses
// structured JSON Lines (JSONL) for event persistence and derives metrics
// on-demand from the event log.
package observability
