package period

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/labels"
)

const (
	RejectionCodeAcademicYearRequired = "SESSION_ACADEMIC_YEAR_REQUIRED"
	RejectionCodeExamSessionRequired  = "SESSION_EXAM_SESSION_REQUIRED"
	RejectionCodeInvalidPlannedRange  = "SESSION_INVALID_PLANNED_RANGE"
	RejectionCodeAlreadyCreated       = "SESSION_ALREADY_CREATED"
	RejectionCodeNotCreated           = "SESSION_NOT_CREATED"
	RejectionCodeWindowAlreadyOpen    = "SESSION_WINDOW_ALREADY_OPEN"
	RejectionCodeWindowNotOpen        = "SESSION_WINDOW_NOT_OPEN"
	RejectionCodeDeadlineNotInFuture  = "SESSION_DEADLINE_NOT_IN_FUTURE"
	RejectionCodeNegativeSubmissions  = "SESSION_NEGATIVE_SUBMISSION_COUNT"
)

// Decide returns the decision for a period command against current state.
func Decide(state State, cmd Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	switch c := cmd.(type) {
	case Create:
		return decideCreate(state, c, now())
	case OpenSubmissionWindow:
		return decideOpen(state, c, now())
	case CloseSubmissionWindow:
		return decideClose(state, c, now())
	default:
		return command.RejectUnsupported(cmd)
	}
}

func decideCreate(state State, c Create, now time.Time) command.Decision {
	if state.Created {
		return reject(RejectionCodeAlreadyCreated, "exam session period already exists")
	}
	academicYear := labels.Normalize(c.AcademicYear)
	if academicYear == "" {
		return reject(RejectionCodeAcademicYearRequired, "academic year is required")
	}
	examSession := labels.Normalize(c.ExamSession)
	if examSession == "" {
		return reject(RejectionCodeExamSessionRequired, "exam session is required")
	}
	if c.PlannedStart.IsZero() || c.PlannedEnd.IsZero() || !c.PlannedStart.Before(c.PlannedEnd) {
		return reject(RejectionCodeInvalidPlannedRange, "planned start must be before planned end")
	}

	payloadJSON, _ := json.Marshal(CreatedPayload{
		AcademicYear: academicYear,
		ExamSession:  examSession,
		PlannedStart: c.PlannedStart.UTC(),
		PlannedEnd:   c.PlannedEnd.UTC(),
		Description:  labels.Normalize(c.Description),
		CreatedBy:    labels.Normalize(c.CreatedBy),
	})
	return command.Accept(command.NewEvent(c.Meta(), AggregateType, state.ID, EventTypeCreated, payloadJSON, now))
}

func decideOpen(state State, c OpenSubmissionWindow, now time.Time) command.Decision {
	if !state.Created {
		return reject(RejectionCodeNotCreated, "exam session period does not exist")
	}
	if state.WindowOpen {
		return reject(RejectionCodeWindowAlreadyOpen, "submission window is already open")
	}
	if !c.SubmissionDeadline.After(now) {
		return reject(RejectionCodeDeadlineNotInFuture, fmt.Sprintf("submission deadline %s is not in the future", c.SubmissionDeadline.UTC().Format(time.RFC3339)))
	}

	payloadJSON, _ := json.Marshal(WindowOpenedPayload{
		OpenedBy:           labels.Normalize(c.OpenedBy),
		SubmissionDeadline: c.SubmissionDeadline.UTC(),
		Description:        labels.Normalize(c.Description),
	})
	return command.Accept(command.NewEvent(c.Meta(), AggregateType, state.ID, EventTypeWindowOpened, payloadJSON, now))
}

func decideClose(state State, c CloseSubmissionWindow, now time.Time) command.Decision {
	if !state.Created {
		return reject(RejectionCodeNotCreated, "exam session period does not exist")
	}
	if !state.WindowOpen {
		return reject(RejectionCodeWindowNotOpen, "submission window is not open")
	}
	if c.TotalSubmissions < 0 {
		return reject(RejectionCodeNegativeSubmissions, "total submissions must not be negative")
	}

	payloadJSON, _ := json.Marshal(WindowClosedPayload{
		ClosedBy:         labels.Normalize(c.ClosedBy),
		Reason:           labels.Normalize(c.Reason),
		TotalSubmissions: c.TotalSubmissions,
	})
	return command.Accept(command.NewEvent(c.Meta(), AggregateType, state.ID, EventTypeWindowClosed, payloadJSON, now))
}

func reject(code, message string) command.Decision {
	return command.Reject(command.Rejection{Code: code, Message: message})
}
