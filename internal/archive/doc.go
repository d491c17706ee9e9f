// Package archive persists dispatched feed events to PostgreSQL.
//
// The Archiver buffers notifications and stat samples in memory and writes
// them in batches, either when a batch fills or on a flush interval.
// Inserts use ON CONFLICT DO NOTHING so replayed events are harmless.
package archive
