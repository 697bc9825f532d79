package submission

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/labels"
)

// Day is an upper-case weekday name.
type Day string

const (
	Monday    Day = "MONDAY"
	Tuesday   Day = "TUESDAY"
	Wednesday Day = "WEDNESDAY"
	Thursday  Day = "THURSDAY"
	Friday    Day = "FRIDAY"
	Saturday  Day = "SATURDAY"
	Sunday    Day = "SUNDAY"
)

// Valid reports whether d names a weekday.
func (d Day) Valid() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// Level ranks how much a professor wants a slot or room.
type Level string

const (
	LevelPreferred  Level = "PREFERRED"
	LevelAcceptable Level = "ACCEPTABLE"
	LevelAvoid      Level = "AVOID"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelPreferred, LevelAcceptable, LevelAvoid:
		return true
	}
	return false
}

// Clock is a time of day in minutes after midnight. JSON form is "HH:MM".
type Clock int

// EndOfDay is the latest representable clock value ("24:00").
const EndOfDay Clock = 24 * 60

// At returns the clock for hour:minute.
func At(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses "HH:MM" (00:00 through 24:00).
func ParseClock(value string) (Clock, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	if hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("parse clock %q: out of range", value)
	}
	return At(hour, minute), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseClock(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimePreference is a weekly slot [Start, End) on Day.
type TimePreference struct {
	Day   Day   `json:"day"`
	Start Clock `json:"start"`
	End   Clock `json:"end"`
	Level Level `json:"level"`
}

func (p TimePreference) String() string {
	return fmt.Sprintf("%s %s-%s", p.Day, p.Start, p.End)
}

// RoomPreference names a room the professor would like (or avoid).
type RoomPreference struct {
	RoomID string `json:"room_id"`
	Level  Level  `json:"level"`
}

// CoursePreference groups the slot and room wishes for one course.
type CoursePreference struct {
	CourseID        string           `json:"course_id"`
	TimePreferences []TimePreference `json:"time_preferences"`
	RoomPreferences []RoomPreference `json:"room_preferences,omitempty"`
}

// TimeSlotCount returns the number of time preferences across prefs.
func TimeSlotCount(prefs []CoursePreference) int {
	n := 0
	for _, p := range prefs {
		n += len(p.TimePreferences)
	}
	return n
}

// normalizePreferences returns a deep copy with ids normalized and enum values
// upper-cased; empty levels default to PREFERRED.
func normalizePreferences(prefs []CoursePreference) []CoursePreference {
	if prefs == nil {
		return nil
	}
	out := make([]CoursePreference, len(prefs))
	for i, p := range prefs {
		course := CoursePreference{CourseID: labels.Normalize(p.CourseID)}
		if p.TimePreferences != nil {
			course.TimePreferences = make([]TimePreference, len(p.TimePreferences))
			for j, tp := range p.TimePreferences {
				tp.Day = Day(strings.ToUpper(strings.TrimSpace(string(tp.Day))))
				tp.Level = normalizeLevel(tp.Level)
				course.TimePreferences[j] = tp
			}
		}
		if p.RoomPreferences != nil {
			course.RoomPreferences = make([]RoomPreference, len(p.RoomPreferences))
			for j, rp := range p.RoomPreferences {
				course.RoomPreferences[j] = RoomPreference{RoomID: labels.Normalize(rp.RoomID), Level: normalizeLevel(rp.Level)}
			}
		}
		out[i] = course
	}
	return out
}

func normalizeLevel(level Level) Level {
	normalized := Level(strings.ToUpper(strings.TrimSpace(string(level))))
	if normalized == "" {
		return LevelPreferred
	}
	return normalized
}

// ClonePreferences returns a deep copy of prefs.
func ClonePreferences(prefs []CoursePreference) []CoursePreference {
	if prefs == nil {
		return nil
	}
	out := make([]CoursePreference, len(prefs))
	for i, p := range prefs {
		out[i] = CoursePreference{CourseID: p.CourseID}
		if p.TimePreferences != nil {
			out[i].TimePreferences = append([]TimePreference(nil), p.TimePreferences...)
		}
		if p.RoomPreferences != nil {
			out[i].RoomPreferences = append([]RoomPreference(nil), p.RoomPreferences...)
		}
	}
	return out
}
