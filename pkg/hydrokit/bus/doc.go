// Package bus replicates hook events across the worker pool.
//
// Publish runs local listeners immediately and enqueues a Record whose
// fanout is the pool size at that moment. Every worker's consumer (started
// by PostInit) re-delivers records from other workers to its own listeners
// and drops records it sent itself, so each worker sees an event exactly
// once under normal operation. Delivery is at-most-once: a record that
// expires before a slow worker claims it is lost for that worker.
package bus
