package period

import (
	"fmt"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/changelog"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// Change log actions.
const (
	ActionCreated      = "CREATED"
	ActionWindowOpened = "SUBMISSION_WINDOW_OPENED"
	ActionWindowClosed = "SUBMISSION_WINDOW_CLOSED"
)

// Fold applies an event to period state. Unknown event types leave the state
// unchanged; a recognized event with an unreadable payload is an error.
func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case EventTypeCreated:
		payload, err := event.DecodePayload[CreatedPayload](evt)
		if err != nil {
			return state, fmt.Errorf("period fold: %w", err)
		}
		state.Created = true
		state.AcademicYear = payload.AcademicYear
		state.ExamSession = payload.ExamSession
		state.PlannedStart = payload.PlannedStart
		state.PlannedEnd = payload.PlannedEnd
		state.Description = payload.Description
		state.CreatedBy = payload.CreatedBy
		state.changeLog = changelog.Append(state.changeLog, changelog.Entry{
			Action:      ActionCreated,
			PerformedBy: payload.CreatedBy,
			Details:     fmt.Sprintf("%s %s", payload.AcademicYear, payload.ExamSession),
			Timestamp:   evt.RecordedAt,
		})
	case EventTypeWindowOpened:
		payload, err := event.DecodePayload[WindowOpenedPayload](evt)
		if err != nil {
			return state, fmt.Errorf("period fold: %w", err)
		}
		state.WindowOpen = true
		state.SubmissionDeadline = payload.SubmissionDeadline
		state.OpenedAt = evt.RecordedAt
		state.OpenedBy = payload.OpenedBy
		if payload.Description != "" {
			state.Description = payload.Description
		}
		state.ClosedAt = time.Time{}
		state.ClosedBy = ""
		state.CloseReason = ""
		state.changeLog = changelog.Append(state.changeLog, changelog.Entry{
			Action:      ActionWindowOpened,
			PerformedBy: payload.OpenedBy,
			Details:     "deadline " + payload.SubmissionDeadline.Format(time.RFC3339),
			Timestamp:   evt.RecordedAt,
		})
	case EventTypeWindowClosed:
		payload, err := event.DecodePayload[WindowClosedPayload](evt)
		if err != nil {
			return state, fmt.Errorf("period fold: %w", err)
		}
		state.WindowOpen = false
		state.ClosedAt = evt.RecordedAt
		state.ClosedBy = payload.ClosedBy
		state.CloseReason = payload.Reason
		state.TotalSubmissions = payload.TotalSubmissions
		state.changeLog = changelog.Append(state.changeLog, changelog.Entry{
			Action:      ActionWindowClosed,
			PerformedBy: payload.ClosedBy,
			Details:     fmt.Sprintf("%d submissions; %s", payload.TotalSubmissions, payload.Reason),
			Timestamp:   evt.RecordedAt,
		})
	}
	return state, nil
}
