package integrity

import (
	"fmt"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// Seal signs the chain hash of each event in place. Events must already
// carry their chain hashes.
func Seal(keyring *Keyring, events []event.Event) error {
	for i := range events {
		if events[i].ChainHash == "" {
			return fmt.Errorf("seal %s seq %d: chain hash is required", events[i].AggregateID, events[i].Seq)
		}
		signature, keyID, err := keyring.SignChainHash(events[i].AggregateID, events[i].ChainHash)
		if err != nil {
			return fmt.Errorf("seal %s seq %d: %w", events[i].AggregateID, events[i].Seq, err)
		}
		events[i].Signature = signature
		events[i].SignatureKeyID = keyID
	}
	return nil
}

// VerifyStream checks the hash chain of a full stream and, when keyring is
// not nil, every signature.
func VerifyStream(keyring *Keyring, events []event.Event) error {
	if err := event.VerifyChain(events); err != nil {
		return err
	}
	if keyring == nil {
		return nil
	}
	for _, evt := range events {
		if err := keyring.VerifyChainHash(evt.AggregateID, evt.ChainHash, evt.Signature, evt.SignatureKeyID); err != nil {
			return fmt.Errorf("verify %s seq %d: %w", evt.AggregateID, evt.Seq, err)
		}
	}
	return nil
}
