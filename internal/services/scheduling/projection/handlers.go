package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

// NewSchedulingRouter registers the handlers for every period and
// submission event type.
func NewSchedulingRouter() *Router {
	r := NewRouter()
	HandleProjection(r, period.EventTypeCreated, applyPeriodCreated)
	HandleProjection(r, period.EventTypeWindowOpened, applyWindowOpened)
	HandleProjection(r, period.EventTypeWindowClosed, applyWindowClosed)
	HandleProjection(r, submission.EventTypeSubmitted, applySubmitted)
	HandleProjection(r, submission.EventTypeUpdated, applyUpdated)
	HandleProjection(r, submission.EventTypeWithdrawn, applyWithdrawn)
	HandleProjection(r, submission.EventTypeValidationFailed, applyValidationFailed)
	HandleProjection(r, submission.EventTypeValidatedWithWarnings, applyValidatedWithWarnings)
	return r
}

func ensureTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// loadSession returns the session row, or a placeholder when submission
// events for the session arrived before the period's own events.
func loadSession(ctx context.Context, w storage.ProjectionWriter, sessionID string) (storage.SessionSummary, error) {
	summary, err := w.GetSessionSummary(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.SessionSummary{SessionID: sessionID}, nil
	}
	if err != nil {
		return storage.SessionSummary{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return summary, nil
}

func applyPeriodCreated(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p period.CreatedPayload) error {
	summary, err := loadSession(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	summary.Created = true
	summary.AcademicYear = p.AcademicYear
	summary.ExamSession = p.ExamSession
	summary.Description = p.Description
	summary.CreatedBy = p.CreatedBy
	summary.PlannedStart = p.PlannedStart.UTC()
	summary.PlannedEnd = p.PlannedEnd.UTC()
	summary.UpdatedAt = ensureTimestamp(evt.RecordedAt)
	return w.PutSessionSummary(ctx, summary)
}

func applyWindowOpened(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p period.WindowOpenedPayload) error {
	summary, err := loadSession(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	summary.WindowOpen = true
	summary.SubmissionDeadline = p.SubmissionDeadline.UTC()
	summary.OpenedAt = ensureTimestamp(evt.RecordedAt)
	summary.ClosedAt = time.Time{}
	summary.CloseReason = ""
	if p.Description != "" {
		summary.Description = p.Description
	}
	summary.UpdatedAt = ensureTimestamp(evt.RecordedAt)
	return w.PutSessionSummary(ctx, summary)
}

func applyWindowClosed(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p period.WindowClosedPayload) error {
	summary, err := loadSession(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	summary.WindowOpen = false
	summary.ClosedAt = ensureTimestamp(evt.RecordedAt)
	summary.CloseReason = p.Reason
	summary.ClosedTotalSubmissions = p.TotalSubmissions
	summary.UpdatedAt = ensureTimestamp(evt.RecordedAt)
	return w.PutSessionSummary(ctx, summary)
}

func loadSubmission(ctx context.Context, w storage.ProjectionWriter, submissionID string) (storage.SubmissionSummary, bool, error) {
	summary, err := w.GetSubmission(ctx, submissionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.SubmissionSummary{SubmissionID: submissionID}, false, nil
	}
	if err != nil {
		return storage.SubmissionSummary{}, false, fmt.Errorf("load submission %s: %w", submissionID, err)
	}
	return summary, true, nil
}

func setPreferences(summary *storage.SubmissionSummary, prefs []submission.CoursePreference) {
	summary.Preferences = submission.ClonePreferences(prefs)
	summary.CourseCount = len(prefs)
	summary.TimeSlotCount = submission.TimeSlotCount(prefs)
	summary.WarningCount = len(submission.ValidatePreferences(prefs).Warnings)
	summary.HasValidationErrors = false
	summary.ValidationErrors = nil
}

func applySubmitted(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p submission.SubmittedPayload) error {
	summary, _, err := loadSubmission(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	at := ensureTimestamp(evt.RecordedAt)
	summary.ProfessorID = p.ProfessorID
	summary.SessionID = p.ExamSessionPeriodID
	summary.Status = storage.SubmissionStatusSubmitted
	summary.Version = p.Version
	setPreferences(&summary, p.Preferences)
	summary.SubmittedAt = at
	summary.UpdatedAt = at
	summary.WithdrawnAt = time.Time{}
	if err := w.PutSubmission(ctx, summary); err != nil {
		return err
	}
	return refreshSession(ctx, w, summary.SessionID, at)
}

func applyUpdated(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p submission.UpdatedPayload) error {
	summary, found, err := loadSubmission(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("submission %s updated before it was projected", evt.AggregateID)
	}
	at := ensureTimestamp(evt.RecordedAt)
	summary.Version = p.NewVersion
	setPreferences(&summary, p.Preferences)
	summary.UpdatedAt = at
	if err := w.PutSubmission(ctx, summary); err != nil {
		return err
	}
	return refreshSession(ctx, w, summary.SessionID, at)
}

func applyWithdrawn(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p submission.WithdrawnPayload) error {
	summary, found, err := loadSubmission(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("submission %s withdrawn before it was projected", evt.AggregateID)
	}
	at := ensureTimestamp(evt.RecordedAt)
	summary.Status = storage.SubmissionStatusWithdrawn
	summary.Version = p.FinalVersion
	summary.WithdrawnAt = at
	summary.UpdatedAt = at
	if err := w.PutSubmission(ctx, summary); err != nil {
		return err
	}
	return refreshSession(ctx, w, summary.SessionID, at)
}

func issueCodes(issues []submission.Issue) []string {
	codes := make([]string, 0, len(issues))
	seen := make(map[string]struct{}, len(issues))
	for _, issue := range issues {
		if _, ok := seen[issue.Code]; ok {
			continue
		}
		seen[issue.Code] = struct{}{}
		codes = append(codes, issue.Code)
	}
	return codes
}

// applyValidationFailed flags the submission. A stream whose first attempt
// failed gets a REJECTED row; a live submission keeps its status.
func applyValidationFailed(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p submission.ValidationFailedPayload) error {
	summary, found, err := loadSubmission(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	at := ensureTimestamp(evt.RecordedAt)
	if !found {
		summary.ProfessorID = p.ProfessorID
		summary.SessionID = p.ExamSessionPeriodID
		summary.Status = storage.SubmissionStatusRejected
	}
	summary.HasValidationErrors = true
	summary.ValidationErrors = issueCodes(p.Errors)
	summary.UpdatedAt = at
	if err := w.PutSubmission(ctx, summary); err != nil {
		return err
	}
	if found {
		return nil
	}
	return ensureSession(ctx, w, summary.SessionID, at)
}

// ensureSession writes a placeholder row for a session the projection has
// not seen yet.
func ensureSession(ctx context.Context, w storage.ProjectionWriter, sessionID string, at time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	_, err := w.GetSessionSummary(ctx, sessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return w.PutSessionSummary(ctx, storage.SessionSummary{SessionID: sessionID, UpdatedAt: at})
}

func applyValidatedWithWarnings(ctx context.Context, w storage.ProjectionWriter, evt event.Event, p submission.ValidatedWithWarningsPayload) error {
	summary, found, err := loadSubmission(ctx, w, evt.AggregateID)
	if err != nil {
		return err
	}
	if !found {
		// First submission: the submitted event in the same append creates
		// the row and derives the same warning count.
		return nil
	}
	summary.WarningCount = len(p.Warnings)
	summary.UpdatedAt = ensureTimestamp(evt.RecordedAt)
	return w.PutSubmission(ctx, summary)
}
