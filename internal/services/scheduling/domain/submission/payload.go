package submission

// Operation names the command a validation event belongs to.
type Operation string

const (
	OperationSubmit Operation = "submit"
	OperationUpdate Operation = "update"
)

// SubmittedPayload carries the full preference set of a new submission.
type SubmittedPayload struct {
	ProfessorID         string             `json:"professor_id"`
	ExamSessionPeriodID string             `json:"exam_session_period_id"`
	Preferences         []CoursePreference `json:"preferences"`
	Version             int                `json:"version"`
	IsUpdate            bool               `json:"is_update,omitempty"`
}

// UpdatedPayload carries the replacement preference set.
type UpdatedPayload struct {
	ProfessorID     string             `json:"professor_id"`
	Preferences     []CoursePreference `json:"preferences"`
	PreviousVersion int                `json:"previous_version"`
	NewVersion      int                `json:"new_version"`
	UpdateReason    string             `json:"update_reason,omitempty"`
}

// WithdrawnPayload closes a submission.
type WithdrawnPayload struct {
	ProfessorID      string `json:"professor_id"`
	WithdrawnBy      string `json:"withdrawn_by,omitempty"`
	WithdrawalReason string `json:"withdrawal_reason,omitempty"`
	FinalVersion     int    `json:"final_version"`
}

// ValidationFailedPayload records a refused preference set.
type ValidationFailedPayload struct {
	ProfessorID         string    `json:"professor_id"`
	ExamSessionPeriodID string    `json:"exam_session_period_id"`
	Operation           Operation `json:"operation"`
	Errors              []Issue   `json:"errors"`
	Warnings            []Issue   `json:"warnings,omitempty"`
}

// ValidatedWithWarningsPayload records the warnings of an accepted set.
type ValidatedWithWarningsPayload struct {
	ProfessorID         string    `json:"professor_id"`
	ExamSessionPeriodID string    `json:"exam_session_period_id"`
	Operation           Operation `json:"operation"`
	Warnings            []Issue   `json:"warnings"`
}
