package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates the event type is not registered.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrTypeAlreadyRegistered indicates a duplicate registration.
	ErrTypeAlreadyRegistered = errors.New("event type already registered")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrAggregateTypeRequired indicates a definition without an aggregate type.
	ErrAggregateTypeRequired = errors.New("aggregate type is required")
	// ErrAggregateTypeMismatch indicates an event addressed to the wrong aggregate kind.
	ErrAggregateTypeMismatch = errors.New("event aggregate type does not match definition")
	// ErrRecordedAtRequired indicates a zero timestamp.
	ErrRecordedAtRequired = errors.New("event timestamp is required")
	// ErrPayloadInvalid indicates a payload that is not a JSON object or fails validation.
	ErrPayloadInvalid = errors.New("event payload is invalid")
	// ErrIntentInvalid indicates an unsupported intent value.
	ErrIntentInvalid = errors.New("event intent is invalid")
)

// Intent declares how consumers treat an event type.
type Intent string

const (
	// IntentProjectionAndReplay events change aggregate state and read models.
	IntentProjectionAndReplay Intent = "projection_and_replay"
	// IntentAuditOnly events are recorded for audit and projections but
	// aggregate folds skip them.
	IntentAuditOnly Intent = "audit_only"
)

// Definition describes one registered event type.
type Definition struct {
	Type          Type
	AggregateType AggregateType
	Intent        Intent
	// ValidatePayload checks the raw payload; nil accepts any JSON object.
	ValidatePayload func(json.RawMessage) error
}

// Registry stores event definitions and validates events before append.
type Registry struct {
	mu          sync.RWMutex
	definitions map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a definition. Intent defaults to IntentProjectionAndReplay.
func (r *Registry) Register(def Definition) error {
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if strings.TrimSpace(string(def.AggregateType)) == "" {
		return fmt.Errorf("%s: %w", def.Type, ErrAggregateTypeRequired)
	}
	switch def.Intent {
	case "":
		def.Intent = IntentProjectionAndReplay
	case IntentProjectionAndReplay, IntentAuditOnly:
	default:
		return fmt.Errorf("%s: %w: %q", def.Type, ErrIntentInvalid, def.Intent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("%s: %w", def.Type, ErrTypeAlreadyRegistered)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the definition for an event type.
func (r *Registry) Definition(t Type) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[t]
	return def, ok
}

// ShouldFold reports whether aggregate folds consume events of type t.
// Unregistered types are skipped so older binaries tolerate newer streams.
func (r *Registry) ShouldFold(t Type) bool {
	def, ok := r.Definition(t)
	return ok && def.Intent == IntentProjectionAndReplay
}

// ValidateForAppend checks evt against its definition and returns a copy with
// a canonical payload encoding.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	if strings.TrimSpace(string(evt.Type)) == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.Definition(evt.Type)
	if !ok {
		return Event{}, fmt.Errorf("%s: %w", evt.Type, ErrTypeUnknown)
	}
	if strings.TrimSpace(evt.AggregateID) == "" {
		return Event{}, fmt.Errorf("%s: %w", evt.Type, ErrAggregateIDRequired)
	}
	if evt.AggregateType != def.AggregateType {
		return Event{}, fmt.Errorf("%s: %w: got %q want %q", evt.Type, ErrAggregateTypeMismatch, evt.AggregateType, def.AggregateType)
	}
	if evt.RecordedAt.IsZero() {
		return Event{}, fmt.Errorf("%s: %w", evt.Type, ErrRecordedAtRequired)
	}

	canonical, err := canonicalPayload(evt.PayloadJSON)
	if err != nil {
		return Event{}, fmt.Errorf("%s: %w: %v", evt.Type, ErrPayloadInvalid, err)
	}
	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(canonical); err != nil {
			return Event{}, fmt.Errorf("%s: %w: %v", evt.Type, ErrPayloadInvalid, err)
		}
	}
	evt.PayloadJSON = canonical
	evt.RecordedAt = evt.RecordedAt.UTC()
	return evt, nil
}

// canonicalPayload re-encodes a JSON object with sorted keys so hashes are
// stable regardless of how the payload was produced.
func canonicalPayload(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}
	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return nil, err
	}
	return out, nil
}
