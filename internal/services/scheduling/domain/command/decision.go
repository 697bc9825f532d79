package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// Decision represents the pure outcome of handling a command.
//
// A decision may carry events and rejections together: a submission that fails
// validation records an audit event and is still declined.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejection captures a domain-level reason a command was declined.
type Rejection struct {
	Code    string
	Message string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// RejectWithEvents returns a declined decision that still records events.
func RejectWithEvents(events []event.Event, rejections ...Rejection) Decision {
	return Decision{
		Events:     append([]event.Event(nil), events...),
		Rejections: append([]Rejection(nil), rejections...),
	}
}

// Rejected reports whether the command was declined.
func (d Decision) Rejected() bool {
	return len(d.Rejections) > 0
}

// Codes returns the rejection codes in order.
func (d Decision) Codes() []string {
	codes := make([]string, 0, len(d.Rejections))
	for _, r := range d.Rejections {
		codes = append(codes, r.Code)
	}
	return codes
}

// Message joins every rejection message.
func (d Decision) Message() string {
	parts := make([]string, 0, len(d.Rejections))
	for _, r := range d.Rejections {
		parts = append(parts, r.Message)
	}
	return strings.Join(parts, "; ")
}

// Metadata carries caller identity and tracing ids from a command onto the
// events it produces.
type Metadata struct {
	ActorID       string
	CorrelationID string
	CausationID   string
}

// Meta returns the metadata; embedding types satisfy command interfaces with it.
func (m Metadata) Meta() Metadata {
	return m
}

// NewEvent builds an event for aggregateID with the command metadata copied
// onto the envelope. Sequence and integrity fields are left for the journal.
func NewEvent(meta Metadata, aggregateType event.AggregateType, aggregateID string, eventType event.Type, payloadJSON []byte, now time.Time) event.Event {
	return event.Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          eventType,
		RecordedAt:    now.UTC().Truncate(time.Millisecond),
		ActorID:       meta.ActorID,
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		PayloadJSON:   payloadJSON,
	}
}

// UnsupportedCommand is the rejection code for a command a decider does not know.
const UnsupportedCommand = "COMMAND_TYPE_UNSUPPORTED"

// RejectUnsupported declines a command value the decider does not handle.
func RejectUnsupported(cmd any) Decision {
	return Reject(Rejection{
		Code:    UnsupportedCommand,
		Message: fmt.Sprintf("command %T is not supported", cmd),
	})
}
