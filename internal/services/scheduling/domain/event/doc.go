// Package event defines the immutable event envelope and the event-type
// registry used by the scheduling write path.
//
// Events are business facts emitted by accepted decisions. The registry checks
// each event against its declared aggregate type and payload contract before
// the journal assigns sequence numbers and integrity fields.
package event
