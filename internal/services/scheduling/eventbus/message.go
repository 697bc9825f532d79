package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// Message is the JSON wire form of one committed event.
type Message struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Seq           int64           `json:"seq"`
	Type          string          `json:"type"`
	RecordedAt    time.Time       `json:"recorded_at"`
	ActorID       string          `json:"actor_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	ChainHash     string          `json:"chain_hash,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewMessage converts evt to its wire form.
func NewMessage(evt event.Event) Message {
	payload := json.RawMessage(evt.PayloadJSON)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Message{
		EventID:       evt.ID,
		AggregateID:   evt.AggregateID,
		AggregateType: string(evt.AggregateType),
		Seq:           evt.Seq,
		Type:          string(evt.Type),
		RecordedAt:    evt.RecordedAt.UTC(),
		ActorID:       evt.ActorID,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
		ChainHash:     evt.ChainHash,
		Payload:       payload,
	}
}

// Event converts m back to an event envelope. Integrity fields other than the
// chain hash are not carried on the wire.
func (m Message) Event() event.Event {
	return event.Event{
		ID:            m.EventID,
		AggregateID:   m.AggregateID,
		AggregateType: event.AggregateType(m.AggregateType),
		Seq:           m.Seq,
		Type:          event.Type(m.Type),
		RecordedAt:    m.RecordedAt,
		ActorID:       m.ActorID,
		CorrelationID: m.CorrelationID,
		CausationID:   m.CausationID,
		ChainHash:     m.ChainHash,
		PayloadJSON:   []byte(m.Payload),
	}
}

// DecodeMessage parses a published payload.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode event message: %w", err)
	}
	if m.AggregateID == "" || m.Type == "" {
		return Message{}, fmt.Errorf("decode event message: aggregate id and type are required")
	}
	return m, nil
}
