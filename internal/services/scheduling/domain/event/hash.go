package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// hashEnvelope fixes the field order hashed for an event. Integrity fields are
// excluded; PayloadJSON must already be canonical.
type hashEnvelope struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	Seq           int64           `json:"seq"`
	Type          Type            `json:"type"`
	RecordedAtMS  int64           `json:"recorded_at_ms"`
	ActorID       string          `json:"actor_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHash computes the SHA-256 content hash of evt.
func EventHash(evt Event) (string, error) {
	payload := json.RawMessage(evt.PayloadJSON)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	data, err := json.Marshal(hashEnvelope{
		ID:            evt.ID,
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		Seq:           evt.Seq,
		Type:          evt.Type,
		RecordedAtMS:  evt.RecordedAt.UnixMilli(),
		ActorID:       evt.ActorID,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
		Payload:       payload,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links evt to the chain hash of its predecessor. The first event of
// a stream has an empty prevHash.
func ChainHash(evt Event, prevHash string) (string, error) {
	hash := evt.Hash
	if hash == "" {
		var err error
		if hash, err = EventHash(evt); err != nil {
			return "", err
		}
	}
	sum := sha256.Sum256([]byte(prevHash + ":" + hash))
	return hex.EncodeToString(sum[:]), nil
}

// ErrChainBroken reports an event whose hashes do not match its content or
// predecessor.
var ErrChainBroken = errors.New("event hash chain is broken")

// VerifyChain recomputes hashes over a contiguous stream prefix.
func VerifyChain(events []Event) error {
	prev := ""
	for _, evt := range events {
		hash, err := EventHash(evt)
		if err != nil {
			return err
		}
		if hash != evt.Hash || evt.PrevHash != prev {
			return fmt.Errorf("%w at seq %d", ErrChainBroken, evt.Seq)
		}
		chain, err := ChainHash(evt, prev)
		if err != nil {
			return err
		}
		if chain != evt.ChainHash {
			return fmt.Errorf("%w at seq %d", ErrChainBroken, evt.Seq)
		}
		prev = chain
	}
	return nil
}
