// Package queue persists pipeline runs in SQLite so the daemon can
// resume interrupted work after a restart. Each run tracks one uploaded
// recording through the minutes pipeline.
package queue
