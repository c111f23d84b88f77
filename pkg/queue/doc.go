/*
Package queue implements certdeploy's persistent push queue (C2): a durable
multiset of PushJob values keyed by lineage name, shared by the deploy-hook
process and the daemon's push engine.

Concurrency is serialized with an OS-level advisory lock (gofrs/flock) on a
sibling lockfile, the way the teacher's storage layer serializes writers —
but the backing store here is a single JSON file, not a database, per the
wire-contract requirement that the queue survive a crash mid-write via
rename-over-temp rather than WAL replay.

	enqueue(job)   — collapse duplicates by lineage_name, last write wins
	snapshot()     — read the full pending set for draining
	remove(name)   — drop a job once every targeted client has been attempted
	isEmpty()      — used by the daemon to decide whether to wake the engine

A parse failure on the queue file is always QueueCorrupt: fatal, no silent
truncation (§4.2).
*/
package queue
