package storage

import (
	"context"
	"time"

	apperrors "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/errors"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
)

// ErrNotFound indicates a requested read-model record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// SubmissionStatus is the read-model status of a submission stream.
type SubmissionStatus string

const (
	SubmissionStatusSubmitted SubmissionStatus = SubmissionStatus(submission.StatusSubmitted)
	SubmissionStatusWithdrawn SubmissionStatus = SubmissionStatus(submission.StatusWithdrawn)
	// SubmissionStatusRejected marks a stream that only holds failed
	// validation attempts.
	SubmissionStatusRejected SubmissionStatus = "REJECTED"
)

// SessionSummary is the read view of one exam session period.
type SessionSummary struct {
	SessionID string
	// Created is false for a placeholder row written by submission events
	// that arrived before the period's own events.
	Created                bool
	AcademicYear           string
	ExamSession            string
	Description            string
	CreatedBy              string
	PlannedStart           time.Time
	PlannedEnd             time.Time
	WindowOpen             bool
	SubmissionDeadline     time.Time
	OpenedAt               time.Time
	ClosedAt               time.Time
	CloseReason            string
	ClosedTotalSubmissions int
	SubmissionCount        int
	UniqueProfessorCount   int
	UpdatedAt              time.Time
}

// SubmissionSummary is the read view of one preference submission stream.
type SubmissionSummary struct {
	SubmissionID        string
	ProfessorID         string
	SessionID           string
	Status              SubmissionStatus
	Version             int
	CourseCount         int
	TimeSlotCount       int
	HasValidationErrors bool
	ValidationErrors    []string
	WarningCount        int
	Preferences         []submission.CoursePreference
	SubmittedAt         time.Time
	UpdatedAt           time.Time
	WithdrawnAt         time.Time
}

// TimeSlotStatistic counts how often a weekly slot is requested across the
// live submissions of a session.
type TimeSlotStatistic struct {
	SessionID       string
	Day             submission.Day
	Start           submission.Clock
	End             submission.Clock
	Level           submission.Level
	PreferenceCount int
	ProfessorCount  int
}

// ProjectionWatermark tracks the highest applied sequence for an aggregate.
type ProjectionWatermark struct {
	AggregateID string
	AppliedSeq  int64
	UpdatedAt   time.Time
}

// ReadStore answers read-model queries.
type ReadStore interface {
	GetSessionSummary(ctx context.Context, sessionID string) (SessionSummary, error)
	ListSessionSummaries(ctx context.Context) ([]SessionSummary, error)
	GetSubmission(ctx context.Context, submissionID string) (SubmissionSummary, error)
	ListSubmissionsBySession(ctx context.Context, sessionID string) ([]SubmissionSummary, error)
	ListSubmissionsByProfessor(ctx context.Context, professorID string) ([]SubmissionSummary, error)
	// GetSubmissionForProfessor prefers the professor's live submission in the
	// session and falls back to the most recently updated one.
	GetSubmissionForProfessor(ctx context.Context, sessionID, professorID string) (SubmissionSummary, error)
	ListTimeSlotStatistics(ctx context.Context, sessionID string) ([]TimeSlotStatistic, error)
	// GetWatermark returns ErrNotFound when nothing was applied for the aggregate.
	GetWatermark(ctx context.Context, aggregateID string) (ProjectionWatermark, error)
}

// ProjectionWriter mutates the read model inside one transaction.
type ProjectionWriter interface {
	ReadStore
	PutSessionSummary(ctx context.Context, summary SessionSummary) error
	PutSubmission(ctx context.Context, summary SubmissionSummary) error
	// ReplaceTimeSlotStatistics swaps every statistic row of a session.
	ReplaceTimeSlotStatistics(ctx context.Context, sessionID string, stats []TimeSlotStatistic) error
	PutWatermark(ctx context.Context, watermark ProjectionWatermark) error
}

// ProjectionStore is a transactional read-model store.
type ProjectionStore interface {
	ReadStore
	// InTx runs fn in a transaction; fn's writes commit together or not at all.
	InTx(ctx context.Context, fn func(ctx context.Context, w ProjectionWriter) error) error
	// Reset deletes every read-model row, including watermarks.
	Reset(ctx context.Context) error
}
