package period

import (
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
)

// Command is implemented by every exam session period command.
type Command interface {
	Meta() command.Metadata
	periodCommand()
}

// Create starts a new exam session period.
type Create struct {
	command.Metadata
	AcademicYear string
	ExamSession  string
	CreatedBy    string
	PlannedStart time.Time
	PlannedEnd   time.Time
	Description  string
}

// OpenSubmissionWindow lets professors submit preferences until the deadline.
type OpenSubmissionWindow struct {
	command.Metadata
	OpenedBy           string
	SubmissionDeadline time.Time
	Description        string
}

// CloseSubmissionWindow stops accepting submissions.
type CloseSubmissionWindow struct {
	command.Metadata
	ClosedBy string
	Reason   string
	// TotalSubmissions is supplied by the caller, typically from the read model.
	TotalSubmissions int
}

func (Create) periodCommand()                {}
func (OpenSubmissionWindow) periodCommand()  {}
func (CloseSubmissionWindow) periodCommand() {}
