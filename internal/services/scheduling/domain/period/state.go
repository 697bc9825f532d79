package period

import (
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/changelog"
)

// State is the replayed exam session period.
type State struct {
	ID      string
	Created bool

	AcademicYear string
	ExamSession  string
	Description  string
	CreatedBy    string
	PlannedStart time.Time
	PlannedEnd   time.Time

	// WindowOpen is true between an accepted open and the next close.
	WindowOpen         bool
	SubmissionDeadline time.Time
	OpenedAt           time.Time
	OpenedBy           string
	ClosedAt           time.Time
	ClosedBy           string
	CloseReason        string
	// TotalSubmissions is the count recorded by the most recent close.
	TotalSubmissions int

	changeLog []changelog.Entry
}

// New returns the empty state for a period id.
func New(id string) State {
	return State{ID: id}
}

// ChangeLog returns a copy of the audit trail.
func (s State) ChangeLog() []changelog.Entry {
	return changelog.Copy(s.changeLog)
}

// Clone returns a state that shares no mutable memory with s.
func Clone(s State) State {
	s.changeLog = changelog.Copy(s.changeLog)
	return s
}
