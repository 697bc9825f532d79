// Package storage defines the read-model records and persistence interfaces
// for the scheduling service.
//
// The read model is derived entirely from the event log and can be wiped and
// rebuilt. Implementations live in subpackages.
//
// Common error types:
//   - ErrNotFound: requested record is missing
package storage
