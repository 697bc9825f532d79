package period

import "time"

// CreatedPayload captures the creation of a period.
type CreatedPayload struct {
	AcademicYear string    `json:"academic_year"`
	ExamSession  string    `json:"exam_session"`
	PlannedStart time.Time `json:"planned_start"`
	PlannedEnd   time.Time `json:"planned_end"`
	Description  string    `json:"description,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
}

// WindowOpenedPayload captures an opened submission window.
type WindowOpenedPayload struct {
	OpenedBy           string    `json:"opened_by,omitempty"`
	SubmissionDeadline time.Time `json:"submission_deadline"`
	Description        string    `json:"description,omitempty"`
}

// WindowClosedPayload captures a closed submission window.
type WindowClosedPayload struct {
	ClosedBy         string `json:"closed_by,omitempty"`
	Reason           string `json:"reason,omitempty"`
	TotalSubmissions int    `json:"total_submissions"`
}
