package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event, e.g. "preference_submission.submitted".
type Type string

// AggregateType names the kind of aggregate a stream belongs to.
type AggregateType string

// NoVersion is the stream version of an aggregate with no events.
const NoVersion int64 = -1

// Event is a persisted business fact for one aggregate.
type Event struct {
	// ID is a globally unique identifier assigned when the event is created.
	ID            string
	AggregateID   string
	AggregateType AggregateType
	// Seq is the 0-based position of the event in its aggregate stream.
	Seq           int64
	Type          Type
	RecordedAt    time.Time
	ActorID       string
	CorrelationID string
	CausationID   string
	PayloadJSON   []byte

	// Integrity fields assigned by durable journals on append.
	Hash           string
	PrevHash       string
	ChainHash      string
	SignatureKeyID string
	Signature      string
}

// DecodePayload unmarshals the payload of evt into a value of type T.
func DecodePayload[T any](evt Event) (T, error) {
	var payload T
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", evt.Type, err)
	}
	return payload, nil
}

// LastSeq returns the sequence of the final event, or NoVersion when events is empty.
func LastSeq(events []Event) int64 {
	if len(events) == 0 {
		return NoVersion
	}
	return events[len(events)-1].Seq
}
