// Package registry tracks package processing status and the global
// cross-package edge index, and fans changes out to stream subscribers.
//
// # Concurrency
//
// Status records are partitioned over a fixed number of shards. Each shard is
// a single goroutine draining a mailbox, so every read and write for one key
// is serialized in arrival order while keys on different shards proceed in
// parallel. The cross-edge index is one more actor of the same shape.
//
// # Streams
//
// [Registry.StreamStatus] delivers the current record first, registered in
// the same actor turn as the subscription so no update can slip between the
// two, then one record per [Registry.SetStatus]. Streams close when the
// caller's context is cancelled or when the registry's stream TTL elapses.
// A TTL close is normal; callers reconnect and resynchronize.
//
// Nothing here is persisted. A restart loses subscriptions and status, and
// clients rebuild state from [Registry.GetStatus].
package registry
