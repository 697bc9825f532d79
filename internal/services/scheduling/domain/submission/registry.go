package submission

import (
	"encoding/json"
	"errors"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// AggregateType names preference submission streams.
const AggregateType event.AggregateType = "preference_submission"

const (
	EventTypeSubmitted             event.Type = "preference_submission.submitted"
	EventTypeUpdated               event.Type = "preference_submission.updated"
	EventTypeWithdrawn             event.Type = "preference_submission.withdrawn"
	EventTypeValidationFailed      event.Type = "preference_submission.validation_failed"
	EventTypeValidatedWithWarnings event.Type = "preference_submission.validated_with_warnings"
)

// RegisterEvents adds the submission event definitions to registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: EventTypeSubmitted, AggregateType: AggregateType, ValidatePayload: validateSubmitted},
		{Type: EventTypeUpdated, AggregateType: AggregateType, ValidatePayload: validateUpdated},
		{Type: EventTypeWithdrawn, AggregateType: AggregateType},
		{Type: EventTypeValidationFailed, AggregateType: AggregateType, Intent: event.IntentAuditOnly},
		{Type: EventTypeValidatedWithWarnings, AggregateType: AggregateType, Intent: event.IntentAuditOnly},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// FoldHandledTypes returns the event types Fold applies.
func FoldHandledTypes() []event.Type {
	return []event.Type{EventTypeSubmitted, EventTypeUpdated, EventTypeWithdrawn}
}

func validateSubmitted(raw json.RawMessage) error {
	var p SubmittedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.ProfessorID == "" || p.ExamSessionPeriodID == "" {
		return errors.New("professor and session ids are required")
	}
	if len(p.Preferences) == 0 {
		return errors.New("preferences are required")
	}
	if p.Version < 1 {
		return errors.New("version must be positive")
	}
	return nil
}

func validateUpdated(raw json.RawMessage) error {
	var p UpdatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if len(p.Preferences) == 0 {
		return errors.New("preferences are required")
	}
	if p.NewVersion != p.PreviousVersion+1 {
		return errors.New("new version must follow previous version")
	}
	return nil
}
