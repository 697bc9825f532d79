// Package timeouts defines shared timeout constants for the scheduling runtime.
package timeouts

import "time"

// LockAcquire caps how long a command waits for its aggregate lock.
const LockAcquire = 5 * time.Second

// OutboxLease is how long a claimed outbox row stays reserved for a worker.
const OutboxLease = 30 * time.Second

// PublisherDrain limits how long shutdown waits for queued event deliveries.
const PublisherDrain = 10 * time.Second

// Shutdown limits how long the gRPC server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
