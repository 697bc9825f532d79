package submission

import "github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"

// Command is implemented by every preference submission command.
type Command interface {
	Meta() command.Metadata
	submissionCommand()
}

// Submit records a professor's preferences for a session period.
type Submit struct {
	command.Metadata
	ProfessorID         string
	ExamSessionPeriodID string
	Preferences         []CoursePreference
	// IsUpdate marks a resubmission; the submission starts at version 2.
	IsUpdate bool
}

// Update replaces the preferences of an existing submission.
type Update struct {
	command.Metadata
	ProfessorID     string
	ExpectedVersion int
	Preferences     []CoursePreference
	UpdateReason    string
}

// Withdraw retracts a submission permanently.
type Withdraw struct {
	command.Metadata
	ProfessorID      string
	WithdrawnBy      string
	WithdrawalReason string
}

func (Submit) submissionCommand()   {}
func (Update) submissionCommand()   {}
func (Withdraw) submissionCommand() {}
