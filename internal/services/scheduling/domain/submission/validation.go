package submission

import "fmt"

// Validation issue codes.
const (
	IssueCourseIDRequired     = "COURSE_ID_REQUIRED"
	IssueTimePreferencesEmpty = "TIME_PREFERENCES_EMPTY"
	IssueTimeSlotInvalid      = "TIME_SLOT_INVALID"
	IssueTimeSlotConflict     = "TIME_SLOT_CONFLICT"
	IssueOutsideBusinessHours = "OUTSIDE_BUSINESS_HOURS"
	IssueLevelInvalid         = "LEVEL_INVALID"
	IssueRoomIDRequired       = "ROOM_ID_REQUIRED"
)

// Business hours bound the slots that produce no warning.
const (
	BusinessHoursStart Clock = 8 * 60
	BusinessHoursEnd   Clock = 20 * 60
)

// Issue is one validation finding.
type Issue struct {
	Code     string `json:"code"`
	CourseID string `json:"course_id,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult splits findings into blocking errors and warnings.
type ValidationResult struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// HasErrors reports whether the preference set must be refused.
func (r ValidationResult) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether the preference set has non-blocking findings.
func (r ValidationResult) HasWarnings() bool { return len(r.Warnings) > 0 }

// ValidatePreferences checks each course entry of prefs.
//
// Errors: a missing course id, an empty time-preference list, a slot with an
// unknown day or start >= end, an unknown time or room level, a room entry
// without an id, and two slots of the same course overlapping on the same day. Warning: a slot starting before 08:00 or ending after 20:00.
func ValidatePreferences(prefs []CoursePreference) ValidationResult {
	var result ValidationResult
	for _, course := range prefs {
		if course.CourseID == "" {
			result.Errors = append(result.Errors, Issue{
				Code:    IssueCourseIDRequired,
				Message: "course id is required",
			})
		}
		if len(course.TimePreferences) == 0 {
			result.Errors = append(result.Errors, Issue{
				Code:     IssueTimePreferencesEmpty,
				CourseID: course.CourseID,
				Message:  fmt.Sprintf("course %s has no time preferences", course.CourseID),
			})
			continue
		}

		valid := make([]TimePreference, 0, len(course.TimePreferences))
		for _, slot := range course.TimePreferences {
			if !slot.Day.Valid() || slot.Start < 0 || slot.End > EndOfDay || slot.Start >= slot.End {
				result.Errors = append(result.Errors, Issue{
					Code:     IssueTimeSlotInvalid,
					CourseID: course.CourseID,
					Message:  fmt.Sprintf("course %s has an invalid time slot %s", course.CourseID, slot),
				})
				continue
			}
			if !slot.Level.Valid() {
				result.Errors = append(result.Errors, Issue{
					Code:     IssueLevelInvalid,
					CourseID: course.CourseID,
					Message:  fmt.Sprintf("course %s slot %s has unknown level %q", course.CourseID, slot, slot.Level),
				})
				continue
			}
			if slot.Start < BusinessHoursStart || slot.End > BusinessHoursEnd {
				result.Warnings = append(result.Warnings, Issue{
					Code:     IssueOutsideBusinessHours,
					CourseID: course.CourseID,
					Message:  fmt.Sprintf("course %s slot %s is outside business hours %s-%s", course.CourseID, slot, BusinessHoursStart, BusinessHoursEnd),
				})
			}
			valid = append(valid, slot)
		}

		for _, room := range course.RoomPreferences {
			if room.RoomID == "" {
				result.Errors = append(result.Errors, Issue{
					Code:     IssueRoomIDRequired,
					CourseID: course.CourseID,
					Message:  fmt.Sprintf("course %s has a room preference without a room id", course.CourseID),
				})
			}
			if !room.Level.Valid() {
				result.Errors = append(result.Errors, Issue{
					Code:     IssueLevelInvalid,
					CourseID: course.CourseID,
					Message:  fmt.Sprintf("course %s room %s has unknown level %q", course.CourseID, room.RoomID, room.Level),
				})
			}
		}

		for i := 0; i < len(valid); i++ {
			for j := i + 1; j < len(valid); j++ {
				a, b := valid[i], valid[j]
				if a.Day == b.Day && a.Start < b.End && b.Start < a.End {
					result.Errors = append(result.Errors, Issue{
						Code:     IssueTimeSlotConflict,
						CourseID: course.CourseID,
						Message:  fmt.Sprintf("course %s slots %s and %s overlap", course.CourseID, a, b),
					})
				}
			}
		}
	}
	return result
}
