package submission

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/labels"
)

const (
	RejectionCodeProfessorRequired = "SUBMISSION_PROFESSOR_REQUIRED"
	RejectionCodeSessionRequired   = "SUBMISSION_SESSION_REQUIRED"
	RejectionCodePreferencesEmpty  = "SUBMISSION_PREFERENCES_EMPTY"
	RejectionCodeAlreadyExists     = "SUBMISSION_ALREADY_EXISTS"
	RejectionCodeNotFound          = "SUBMISSION_NOT_FOUND"
	RejectionCodeWithdrawn         = "SUBMISSION_WITHDRAWN"
	RejectionCodeProfessorMismatch = "SUBMISSION_PROFESSOR_MISMATCH"
	RejectionCodeVersionConflict   = "SUBMISSION_VERSION_CONFLICT"
)

// Decide returns the decision for a submission command against current state.
//
// A preference set with validation errors yields a declined decision that
// still carries a validation_failed event, so the attempt is auditable.
func Decide(state State, cmd Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	switch c := cmd.(type) {
	case Submit:
		return decideSubmit(state, c, now())
	case Update:
		return decideUpdate(state, c, now())
	case Withdraw:
		return decideWithdraw(state, c, now())
	default:
		return command.RejectUnsupported(cmd)
	}
}

func decideSubmit(state State, c Submit, now time.Time) command.Decision {
	if state.Exists() {
		return reject(RejectionCodeAlreadyExists, fmt.Sprintf("submission %s already exists", state.ID))
	}
	professorID := labels.Normalize(c.ProfessorID)
	if professorID == "" {
		return reject(RejectionCodeProfessorRequired, "professor id is required")
	}
	sessionID := labels.Normalize(c.ExamSessionPeriodID)
	if sessionID == "" {
		return reject(RejectionCodeSessionRequired, "exam session period id is required")
	}
	if len(c.Preferences) == 0 {
		return reject(RejectionCodePreferencesEmpty, "at least one course preference is required")
	}

	prefs := normalizePreferences(c.Preferences)
	result := ValidatePreferences(prefs)
	if result.HasErrors() {
		return validationFailed(state, c.Meta(), professorID, sessionID, OperationSubmit, result, now)
	}

	version := 1
	if c.IsUpdate {
		version = 2
	}
	events := warningEvents(state, c.Meta(), professorID, sessionID, OperationSubmit, result, now)
	payloadJSON, _ := json.Marshal(SubmittedPayload{
		ProfessorID:         professorID,
		ExamSessionPeriodID: sessionID,
		Preferences:         prefs,
		Version:             version,
		IsUpdate:            c.IsUpdate,
	})
	events = append(events, command.NewEvent(c.Meta(), AggregateType, state.ID, EventTypeSubmitted, payloadJSON, now))
	return command.Accept(events...)
}

func decideUpdate(state State, c Update, now time.Time) command.Decision {
	if !state.Exists() {
		return reject(RejectionCodeNotFound, fmt.Sprintf("submission %s does not exist", state.ID))
	}
	if state.Status == StatusWithdrawn {
		return reject(RejectionCodeWithdrawn, "submission was withdrawn")
	}
	professorID := labels.Normalize(c.ProfessorID)
	if professorID != state.ProfessorID {
		return reject(RejectionCodeProfessorMismatch, "only the original submitter can update a submission")
	}
	if c.ExpectedVersion != state.Version {
		return reject(RejectionCodeVersionConflict, fmt.Sprintf("expected version %d but submission is at version %d", c.ExpectedVersion, state.Version))
	}
	if len(c.Preferences) == 0 {
		return reject(RejectionCodePreferencesEmpty, "at least one course preference is required")
	}

	prefs := normalizePreferences(c.Preferences)
	result := ValidatePreferences(prefs)
	if result.HasErrors() {
		return validationFailed(state, c.Meta(), professorID, state.ExamSessionPeriodID, OperationUpdate, result, now)
	}

	events := warningEvents(state, c.Meta(), professorID, state.ExamSessionPeriodID, OperationUpdate, result, now)
	payloadJSON, _ := json.Marshal(UpdatedPayload{
		ProfessorID:     professorID,
		Preferences:     prefs,
		PreviousVersion: state.Version,
		NewVersion:      state.Version + 1,
		UpdateReason:    labels.Normalize(c.UpdateReason),
	})
	events = append(events, command.NewEvent(c.Meta(), AggregateType, state.ID, EventTypeUpdated, payloadJSON, now))
	return command.Accept(events...)
}

func decideWithdraw(state State, c Withdraw, now time.Time) command.Decision {
	if !state.Exists() {
		return reject(RejectionCodeNotFound, fmt.Sprintf("submission %s does not exist", state.ID))
	}
	if state.Status == StatusWithdrawn {
		return reject(RejectionCodeWithdrawn, "submission was already withdrawn")
	}
	professorID := labels.Normalize(c.ProfessorID)
	if professorID != state.ProfessorID {
		return reject(RejectionCodeProfessorMismatch, "only the original submitter can withdraw a submission")
	}

	withdrawnBy := labels.Normalize(c.WithdrawnBy)
	if withdrawnBy == "" {
		withdrawnBy = professorID
	}
	payloadJSON, _ := json.Marshal(WithdrawnPayload{
		ProfessorID:      professorID,
		WithdrawnBy:      withdrawnBy,
		WithdrawalReason: labels.Normalize(c.WithdrawalReason),
		FinalVersion:     state.Version,
	})
	return command.Accept(command.NewEvent(c.Meta(), AggregateType, state.ID, EventTypeWithdrawn, payloadJSON, now))
}

func validationFailed(state State, meta command.Metadata, professorID, sessionID string, op Operation, result ValidationResult, now time.Time) command.Decision {
	payloadJSON, _ := json.Marshal(ValidationFailedPayload{
		ProfessorID:         professorID,
		ExamSessionPeriodID: sessionID,
		Operation:           op,
		Errors:              result.Errors,
		Warnings:            result.Warnings,
	})
	evt := command.NewEvent(meta, AggregateType, state.ID, EventTypeValidationFailed, payloadJSON, now)

	rejections := make([]command.Rejection, 0, len(result.Errors))
	for _, issue := range result.Errors {
		rejections = append(rejections, command.Rejection{Code: issue.Code, Message: issue.Message})
	}
	return command.RejectWithEvents([]event.Event{evt}, rejections...)
}

func warningEvents(state State, meta command.Metadata, professorID, sessionID string, op Operation, result ValidationResult, now time.Time) []event.Event {
	if !result.HasWarnings() {
		return nil
	}
	payloadJSON, _ := json.Marshal(ValidatedWithWarningsPayload{
		ProfessorID:         professorID,
		ExamSessionPeriodID: sessionID,
		Operation:           op,
		Warnings:            result.Warnings,
	})
	return []event.Event{command.NewEvent(meta, AggregateType, state.ID, EventTypeValidatedWithWarnings, payloadJSON, now)}
}

func reject(code, message string) command.Decision {
	return command.Reject(command.Rejection{Code: code, Message: message})
}
