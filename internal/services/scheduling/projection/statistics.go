package projection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

type slotKey struct {
	day   submission.Day
	start submission.Clock
	end   submission.Clock
	level submission.Level
}

// refreshSession recomputes the session's derived counters by rescanning
// its live submissions.
func refreshSession(ctx context.Context, w storage.ProjectionWriter, sessionID string, at time.Time) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	submissions, err := w.ListSubmissionsBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list submissions for session %s: %w", sessionID, err)
	}
	live := make([]storage.SubmissionSummary, 0, len(submissions))
	for _, s := range submissions {
		if s.Status == storage.SubmissionStatusSubmitted {
			live = append(live, s)
		}
	}

	summary, err := loadSession(ctx, w, sessionID)
	if err != nil {
		return err
	}
	professors := make(map[string]struct{}, len(live))
	for _, s := range live {
		professors[s.ProfessorID] = struct{}{}
	}
	summary.SubmissionCount = len(live)
	summary.UniqueProfessorCount = len(professors)
	if at.After(summary.UpdatedAt) {
		summary.UpdatedAt = at
	}
	if err := w.PutSessionSummary(ctx, summary); err != nil {
		return err
	}
	return w.ReplaceTimeSlotStatistics(ctx, sessionID, timeSlotStatistics(sessionID, live))
}

func timeSlotStatistics(sessionID string, live []storage.SubmissionSummary) []storage.TimeSlotStatistic {
	counts := make(map[slotKey]int)
	profs := make(map[slotKey]map[string]struct{})
	for _, s := range live {
		for _, course := range s.Preferences {
			for _, tp := range course.TimePreferences {
				key := slotKey{day: tp.Day, start: tp.Start, end: tp.End, level: tp.Level}
				counts[key]++
				if profs[key] == nil {
					profs[key] = make(map[string]struct{})
				}
				profs[key][s.ProfessorID] = struct{}{}
			}
		}
	}
	stats := make([]storage.TimeSlotStatistic, 0, len(counts))
	for key, n := range counts {
		stats = append(stats, storage.TimeSlotStatistic{
			SessionID:       sessionID,
			Day:             key.day,
			Start:           key.start,
			End:             key.end,
			Level:           key.level,
			PreferenceCount: n,
			ProfessorCount:  len(profs[key]),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Level < b.Level
	})
	return stats
}
