package period

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// AggregateType names exam session period streams.
const AggregateType event.AggregateType = "exam_session_period"

const (
	EventTypeCreated      event.Type = "exam_session_period.created"
	EventTypeWindowOpened event.Type = "exam_session_period.submission_window_opened"
	EventTypeWindowClosed event.Type = "exam_session_period.submission_window_closed"
)

// RegisterEvents adds the period event definitions to registry.
func RegisterEvents(registry *event.Registry) error {
	if registry == nil {
		return errors.New("event registry is required")
	}
	defs := []event.Definition{
		{Type: EventTypeCreated, AggregateType: AggregateType, ValidatePayload: validateCreated},
		{Type: EventTypeWindowOpened, AggregateType: AggregateType, ValidatePayload: validateOpened},
		{Type: EventTypeWindowClosed, AggregateType: AggregateType, ValidatePayload: validateClosed},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// FoldHandledTypes returns the event types Fold applies.
func FoldHandledTypes() []event.Type {
	return []event.Type{EventTypeCreated, EventTypeWindowOpened, EventTypeWindowClosed}
}

func validateCreated(raw json.RawMessage) error {
	var p CreatedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.AcademicYear == "" || p.ExamSession == "" {
		return errors.New("academic year and exam session are required")
	}
	if !p.PlannedStart.Before(p.PlannedEnd) {
		return fmt.Errorf("planned start %s must precede planned end %s", p.PlannedStart, p.PlannedEnd)
	}
	return nil
}

func validateOpened(raw json.RawMessage) error {
	var p WindowOpenedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.SubmissionDeadline.IsZero() {
		return errors.New("submission deadline is required")
	}
	return nil
}

func validateClosed(raw json.RawMessage) error {
	var p WindowClosedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.TotalSubmissions < 0 {
		return errors.New("total submissions must not be negative")
	}
	return nil
}
