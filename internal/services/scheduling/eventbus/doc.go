// Package eventbus fans committed scheduling events out to external
// consumers over Redis pub/sub.
//
// Delivery is at-most-once per publish: Redis keeps no history for a channel,
// so consumers that need every event should read the event log instead.
package eventbus
