package submission

import (
	"fmt"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/changelog"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// Change log actions.
const (
	ActionSubmitted = "SUBMITTED"
	ActionUpdated   = "UPDATED"
	ActionWithdrawn = "WITHDRAWN"
)

// Fold applies an event to submission state. Validation audit events and
// unknown types leave the state unchanged.
func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case EventTypeSubmitted:
		payload, err := event.DecodePayload[SubmittedPayload](evt)
		if err != nil {
			return state, fmt.Errorf("submission fold: %w", err)
		}
		state.Status = StatusSubmitted
		state.ProfessorID = payload.ProfessorID
		state.ExamSessionPeriodID = payload.ExamSessionPeriodID
		state.Preferences = payload.Preferences
		state.Version = payload.Version
		state.SubmittedAt = evt.RecordedAt
		state.UpdatedAt = evt.RecordedAt
		state.changeLog = changelog.Append(state.changeLog, changelog.Entry{
			Action:      ActionSubmitted,
			PerformedBy: payload.ProfessorID,
			Details:     fmt.Sprintf("%d courses, %d time slots, version %d", len(payload.Preferences), TimeSlotCount(payload.Preferences), payload.Version),
			Timestamp:   evt.RecordedAt,
		})
	case EventTypeUpdated:
		payload, err := event.DecodePayload[UpdatedPayload](evt)
		if err != nil {
			return state, fmt.Errorf("submission fold: %w", err)
		}
		state.Preferences = payload.Preferences
		state.Version = payload.NewVersion
		state.UpdatedAt = evt.RecordedAt
		state.UpdateReason = payload.UpdateReason
		state.changeLog = changelog.Append(state.changeLog, changelog.Entry{
			Action:      ActionUpdated,
			PerformedBy: payload.ProfessorID,
			Details:     fmt.Sprintf("version %d -> %d; %s", payload.PreviousVersion, payload.NewVersion, payload.UpdateReason),
			Timestamp:   evt.RecordedAt,
		})
	case EventTypeWithdrawn:
		payload, err := event.DecodePayload[WithdrawnPayload](evt)
		if err != nil {
			return state, fmt.Errorf("submission fold: %w", err)
		}
		state.Status = StatusWithdrawn
		state.WithdrawnAt = evt.RecordedAt
		state.WithdrawnBy = payload.WithdrawnBy
		state.WithdrawalReason = payload.WithdrawalReason
		state.changeLog = changelog.Append(state.changeLog, changelog.Entry{
			Action:      ActionWithdrawn,
			PerformedBy: payload.WithdrawnBy,
			Details:     fmt.Sprintf("final version %d; %s", payload.FinalVersion, payload.WithdrawalReason),
			Timestamp:   evt.RecordedAt,
		})
	}
	return state, nil
}
