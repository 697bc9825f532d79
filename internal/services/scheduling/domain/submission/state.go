package submission

import (
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/changelog"
)

// Status is the lifecycle position of a submission.
type Status string

const (
	StatusNone      Status = ""
	StatusSubmitted Status = "SUBMITTED"
	StatusWithdrawn Status = "WITHDRAWN"
)

// State is the replayed preference submission.
type State struct {
	ID                  string
	ProfessorID         string
	ExamSessionPeriodID string
	Preferences         []CoursePreference
	// Version is the submission version: 1 (or 2 for a resubmission) after
	// Submit, +1 per accepted Update. It is not the event stream version.
	Version int
	Status  Status

	SubmittedAt      time.Time
	UpdatedAt        time.Time
	UpdateReason     string
	WithdrawnAt      time.Time
	WithdrawnBy      string
	WithdrawalReason string

	changeLog []changelog.Entry
}

// New returns the empty state for a submission id.
func New(id string) State {
	return State{ID: id}
}

// Exists reports whether a submission was accepted for this id.
func (s State) Exists() bool {
	return s.Status != StatusNone
}

// ChangeLog returns a copy of the audit trail.
func (s State) ChangeLog() []changelog.Entry {
	return changelog.Copy(s.changeLog)
}

// Clone returns a state that shares no mutable memory with s.
func Clone(s State) State {
	s.Preferences = ClonePreferences(s.Preferences)
	s.changeLog = changelog.Copy(s.changeLog)
	return s
}
