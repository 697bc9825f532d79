package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/sqlite/migrations"
)

const (
	maxBusyRetries = 8
	retryBaseDelay = 10 * time.Millisecond
)

// ProjectionStore is the SQLite read model.
type ProjectionStore struct {
	sqlDB *sql.DB
	q     queryer
	inTx  bool
}

var (
	_ storage.ProjectionStore  = (*ProjectionStore)(nil)
	_ storage.ProjectionWriter = (*ProjectionStore)(nil)
)

// OpenProjections opens the read model at path.
func OpenProjections(ctx context.Context, path string) (*ProjectionStore, error) {
	sqlDB, err := openDB(ctx, path, migrations.ProjectionsFS, "projections")
	if err != nil {
		return nil, err
	}
	return &ProjectionStore{sqlDB: sqlDB, q: sqlDB}, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *ProjectionStore) Close() error {
	if s == nil || s.sqlDB == nil || s.inTx {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *ProjectionStore) withTx(tx *sql.Tx) *ProjectionStore {
	return &ProjectionStore{sqlDB: s.sqlDB, q: tx, inTx: true}
}

// InTx runs fn inside one transaction, retrying when SQLite reports the
// database busy before fn's writes were committed.
func (s *ProjectionStore) InTx(ctx context.Context, fn func(ctx context.Context, w storage.ProjectionWriter) error) error {
	if fn == nil {
		return fmt.Errorf("transaction callback is required")
	}
	if s.inTx {
		return fn(ctx, s)
	}

	waitForRetry := func(attempt int) error {
		timer := time.NewTimer(time.Duration(attempt+1) * retryBaseDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || attempt >= maxBusyRetries {
			return err
		}
		if waitErr := waitForRetry(attempt); waitErr != nil {
			return waitErr
		}
	}
}

func (s *ProjectionStore) runTx(ctx context.Context, fn func(ctx context.Context, w storage.ProjectionWriter) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(ctx, s.withTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit projection tx: %w", err)
	}
	return nil
}

// Reset deletes every read-model row.
func (s *ProjectionStore) Reset(ctx context.Context) error {
	return s.InTx(ctx, func(ctx context.Context, w storage.ProjectionWriter) error {
		tx := w.(*ProjectionStore)
		for _, table := range []string{"session_summaries", "submission_summaries", "time_slot_statistics", "projection_watermarks"} {
			if _, err := tx.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// Session summaries

const selectSessionColumns = `SELECT session_id, created, academic_year, exam_session, description, created_by,
    planned_start, planned_end, window_open, submission_deadline, opened_at, closed_at, close_reason,
    closed_total_submissions, submission_count, unique_professor_count, updated_at
FROM session_summaries`

func scanSession(row rowScanner) (storage.SessionSummary, error) {
	var (
		summary                                         storage.SessionSummary
		created, windowOpen                             int
		plannedStart, plannedEnd, deadline, opened, cls sql.NullInt64
		updatedAt                                       int64
	)
	if err := row.Scan(
		&summary.SessionID,
		&created,
		&summary.AcademicYear,
		&summary.ExamSession,
		&summary.Description,
		&summary.CreatedBy,
		&plannedStart,
		&plannedEnd,
		&windowOpen,
		&deadline,
		&opened,
		&cls,
		&summary.CloseReason,
		&summary.ClosedTotalSubmissions,
		&summary.SubmissionCount,
		&summary.UniqueProfessorCount,
		&updatedAt,
	); err != nil {
		return storage.SessionSummary{}, err
	}
	summary.Created = created != 0
	summary.WindowOpen = windowOpen != 0
	summary.PlannedStart = fromNullMillis(plannedStart)
	summary.PlannedEnd = fromNullMillis(plannedEnd)
	summary.SubmissionDeadline = fromNullMillis(deadline)
	summary.OpenedAt = fromNullMillis(opened)
	summary.ClosedAt = fromNullMillis(cls)
	summary.UpdatedAt = fromMillis(updatedAt)
	return summary, nil
}

// GetSessionSummary returns storage.ErrNotFound for an unknown session.
func (s *ProjectionStore) GetSessionSummary(ctx context.Context, sessionID string) (storage.SessionSummary, error) {
	summary, err := scanSession(s.q.QueryRowContext(ctx, selectSessionColumns+` WHERE session_id = ?`, strings.TrimSpace(sessionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SessionSummary{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SessionSummary{}, fmt.Errorf("get session summary: %w", err)
	}
	return summary, nil
}

// ListSessionSummaries returns every session ordered by id.
func (s *ProjectionStore) ListSessionSummaries(ctx context.Context) ([]storage.SessionSummary, error) {
	rows, err := s.q.QueryContext(ctx, selectSessionColumns+` ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}
	defer rows.Close()
	var summaries []storage.SessionSummary
	for rows.Next() {
		summary, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session summaries: %w", err)
	}
	return summaries, nil
}

// PutSessionSummary upserts a session summary.
func (s *ProjectionStore) PutSessionSummary(ctx context.Context, summary storage.SessionSummary) error {
	summary.SessionID = strings.TrimSpace(summary.SessionID)
	if summary.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO session_summaries (
		    session_id, created, academic_year, exam_session, description, created_by,
		    planned_start, planned_end, window_open, submission_deadline, opened_at, closed_at, close_reason,
		    closed_total_submissions, submission_count, unique_professor_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
		    created = excluded.created,
		    academic_year = excluded.academic_year,
		    exam_session = excluded.exam_session,
		    description = excluded.description,
		    created_by = excluded.created_by,
		    planned_start = excluded.planned_start,
		    planned_end = excluded.planned_end,
		    window_open = excluded.window_open,
		    submission_deadline = excluded.submission_deadline,
		    opened_at = excluded.opened_at,
		    closed_at = excluded.closed_at,
		    close_reason = excluded.close_reason,
		    closed_total_submissions = excluded.closed_total_submissions,
		    submission_count = excluded.submission_count,
		    unique_professor_count = excluded.unique_professor_count,
		    updated_at = excluded.updated_at`,
		summary.SessionID,
		boolToInt(summary.Created),
		summary.AcademicYear,
		summary.ExamSession,
		summary.Description,
		summary.CreatedBy,
		toNullMillis(summary.PlannedStart),
		toNullMillis(summary.PlannedEnd),
		boolToInt(summary.WindowOpen),
		toNullMillis(summary.SubmissionDeadline),
		toNullMillis(summary.OpenedAt),
		toNullMillis(summary.ClosedAt),
		summary.CloseReason,
		summary.ClosedTotalSubmissions,
		summary.SubmissionCount,
		summary.UniqueProfessorCount,
		toMillis(summary.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session summary: %w", err)
	}
	return nil
}

// Submission summaries

const selectSubmissionColumns = `SELECT submission_id, professor_id, session_id, status, version, course_count,
    time_slot_count, has_validation_errors, validation_errors_json, warning_count, preferences_json,
    submitted_at, updated_at, withdrawn_at
FROM submission_summaries`

func scanSubmission(row rowScanner) (storage.SubmissionSummary, error) {
	var (
		summary                  storage.SubmissionSummary
		status                   string
		hasErrors                int
		errorsJSON, prefsJSON    string
		submittedAt, withdrawnAt sql.NullInt64
		updatedAt                int64
	)
	if err := row.Scan(
		&summary.SubmissionID,
		&summary.ProfessorID,
		&summary.SessionID,
		&status,
		&summary.Version,
		&summary.CourseCount,
		&summary.TimeSlotCount,
		&hasErrors,
		&errorsJSON,
		&summary.WarningCount,
		&prefsJSON,
		&submittedAt,
		&updatedAt,
		&withdrawnAt,
	); err != nil {
		return storage.SubmissionSummary{}, err
	}
	summary.Status = storage.SubmissionStatus(status)
	summary.HasValidationErrors = hasErrors != 0
	if err := json.Unmarshal([]byte(errorsJSON), &summary.ValidationErrors); err != nil {
		return storage.SubmissionSummary{}, fmt.Errorf("decode validation errors: %w", err)
	}
	var prefs []submission.CoursePreference
	if err := json.Unmarshal([]byte(prefsJSON), &prefs); err != nil {
		return storage.SubmissionSummary{}, fmt.Errorf("decode preferences: %w", err)
	}
	summary.Preferences = prefs
	summary.SubmittedAt = fromNullMillis(submittedAt)
	summary.UpdatedAt = fromMillis(updatedAt)
	summary.WithdrawnAt = fromNullMillis(withdrawnAt)
	return summary, nil
}

func (s *ProjectionStore) listSubmissions(ctx context.Context, where string, args ...any) ([]storage.SubmissionSummary, error) {
	rows, err := s.q.QueryContext(ctx, selectSubmissionColumns+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var summaries []storage.SubmissionSummary
	for rows.Next() {
		summary, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return summaries, nil
}

// GetSubmission returns storage.ErrNotFound for an unknown submission.
func (s *ProjectionStore) GetSubmission(ctx context.Context, submissionID string) (storage.SubmissionSummary, error) {
	summary, err := scanSubmission(s.q.QueryRowContext(ctx, selectSubmissionColumns+` WHERE submission_id = ?`, strings.TrimSpace(submissionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SubmissionSummary{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SubmissionSummary{}, fmt.Errorf("get submission: %w", err)
	}
	return summary, nil
}

// ListSubmissionsBySession returns a session's submissions ordered by id.
func (s *ProjectionStore) ListSubmissionsBySession(ctx context.Context, sessionID string) ([]storage.SubmissionSummary, error) {
	return s.listSubmissions(ctx, `WHERE session_id = ? ORDER BY submission_id`, strings.TrimSpace(sessionID))
}

// ListSubmissionsByProfessor returns a professor's submissions ordered by id.
func (s *ProjectionStore) ListSubmissionsByProfessor(ctx context.Context, professorID string) ([]storage.SubmissionSummary, error) {
	return s.listSubmissions(ctx, `WHERE professor_id = ? ORDER BY submission_id`, strings.TrimSpace(professorID))
}

// GetSubmissionForProfessor implements storage.ReadStore.
func (s *ProjectionStore) GetSubmissionForProfessor(ctx context.Context, sessionID, professorID string) (storage.SubmissionSummary, error) {
	summaries, err := s.listSubmissions(ctx,
		`WHERE session_id = ? AND professor_id = ?
		 ORDER BY CASE status WHEN 'SUBMITTED' THEN 0 ELSE 1 END, updated_at DESC, submission_id
		 LIMIT 1`,
		strings.TrimSpace(sessionID), strings.TrimSpace(professorID),
	)
	if err != nil {
		return storage.SubmissionSummary{}, err
	}
	if len(summaries) == 0 {
		return storage.SubmissionSummary{}, storage.ErrNotFound
	}
	return summaries[0], nil
}

// PutSubmission upserts a submission summary.
func (s *ProjectionStore) PutSubmission(ctx context.Context, summary storage.SubmissionSummary) error {
	summary.SubmissionID = strings.TrimSpace(summary.SubmissionID)
	if summary.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	validationErrors := summary.ValidationErrors
	if validationErrors == nil {
		validationErrors = []string{}
	}
	errorsJSON, err := json.Marshal(validationErrors)
	if err != nil {
		return fmt.Errorf("encode validation errors: %w", err)
	}
	prefs := summary.Preferences
	if prefs == nil {
		prefs = []submission.CoursePreference{}
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO submission_summaries (
		    submission_id, professor_id, session_id, status, version, course_count, time_slot_count,
		    has_validation_errors, validation_errors_json, warning_count, preferences_json,
		    submitted_at, updated_at, withdrawn_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (submission_id) DO UPDATE SET
		    professor_id = excluded.professor_id,
		    session_id = excluded.session_id,
		    status = excluded.status,
		    version = excluded.version,
		    course_count = excluded.course_count,
		    time_slot_count = excluded.time_slot_count,
		    has_validation_errors = excluded.has_validation_errors,
		    validation_errors_json = excluded.validation_errors_json,
		    warning_count = excluded.warning_count,
		    preferences_json = excluded.preferences_json,
		    submitted_at = excluded.submitted_at,
		    updated_at = excluded.updated_at,
		    withdrawn_at = excluded.withdrawn_at`,
		summary.SubmissionID,
		summary.ProfessorID,
		summary.SessionID,
		string(summary.Status),
		summary.Version,
		summary.CourseCount,
		summary.TimeSlotCount,
		boolToInt(summary.HasValidationErrors),
		string(errorsJSON),
		summary.WarningCount,
		string(prefsJSON),
		toNullMillis(summary.SubmittedAt),
		toMillis(summary.UpdatedAt),
		toNullMillis(summary.WithdrawnAt),
	)
	if err != nil {
		return fmt.Errorf("put submission: %w", err)
	}
	return nil
}

// Time slot statistics

// ListTimeSlotStatistics returns a session's slot counts, most requested first.
func (s *ProjectionStore) ListTimeSlotStatistics(ctx context.Context, sessionID string) ([]storage.TimeSlotStatistic, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT session_id, day, start_minute, end_minute, level, preference_count, professor_count
		 FROM time_slot_statistics
		 WHERE session_id = ?
		 ORDER BY preference_count DESC, day, start_minute, end_minute, level`,
		strings.TrimSpace(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list time slot statistics: %w", err)
	}
	defer rows.Close()
	var stats []storage.TimeSlotStatistic
	for rows.Next() {
		var (
			stat       storage.TimeSlotStatistic
			day, level string
			start, end int
		)
		if err := rows.Scan(&stat.SessionID, &day, &start, &end, &level, &stat.PreferenceCount, &stat.ProfessorCount); err != nil {
			return nil, fmt.Errorf("scan time slot statistic: %w", err)
		}
		stat.Day = submission.Day(day)
		stat.Start = submission.Clock(start)
		stat.End = submission.Clock(end)
		stat.Level = submission.Level(level)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time slot statistics: %w", err)
	}
	return stats, nil
}

// ReplaceTimeSlotStatistics swaps a session's statistics.
func (s *ProjectionStore) ReplaceTimeSlotStatistics(ctx context.Context, sessionID string, stats []storage.TimeSlotStatistic) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM time_slot_statistics WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear time slot statistics: %w", err)
	}
	for _, stat := range stats {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO time_slot_statistics (session_id, day, start_minute, end_minute, level, preference_count, professor_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID,
			string(stat.Day),
			int(stat.Start),
			int(stat.End),
			string(stat.Level),
			stat.PreferenceCount,
			stat.ProfessorCount,
		); err != nil {
			return fmt.Errorf("insert time slot statistic: %w", err)
		}
	}
	return nil
}

// Watermarks

// GetWatermark returns storage.ErrNotFound if nothing was applied for the aggregate.
func (s *ProjectionStore) GetWatermark(ctx context.Context, aggregateID string) (storage.ProjectionWatermark, error) {
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return storage.ProjectionWatermark{}, fmt.Errorf("aggregate id is required")
	}
	var (
		wm        storage.ProjectionWatermark
		updatedAt int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT aggregate_id, applied_seq, updated_at FROM projection_watermarks WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&wm.AggregateID, &wm.AppliedSeq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProjectionWatermark{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ProjectionWatermark{}, fmt.Errorf("get projection watermark: %w", err)
	}
	wm.UpdatedAt = fromMillis(updatedAt)
	return wm, nil
}

// PutWatermark upserts the watermark for an aggregate.
func (s *ProjectionStore) PutWatermark(ctx context.Context, wm storage.ProjectionWatermark) error {
	wm.AggregateID = strings.TrimSpace(wm.AggregateID)
	if wm.AggregateID == "" {
		return fmt.Errorf("aggregate id is required")
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projection_watermarks (aggregate_id, applied_seq, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (aggregate_id) DO UPDATE SET
		     applied_seq = excluded.applied_seq,
		     updated_at = excluded.updated_at`,
		wm.AggregateID,
		wm.AppliedSeq,
		toMillis(wm.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save projection watermark: %w", err)
	}
	return nil
}
