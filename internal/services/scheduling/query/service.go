// Package query answers read-only questions from the projection store. It
// never reads the event log, so answers may lag recent commands.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/errors"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

// Service serves read-model queries.
type Service struct {
	store storage.ReadStore
}

// NewService builds a query service over store.
func NewService(store storage.ReadStore) (*Service, error) {
	if store == nil {
		return nil, errors.New("read store is required")
	}
	return &Service{store: store}, nil
}

func requireID(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, field+" is required")
	}
	return value, nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.WithMetadata(apperrors.CodeNotFound, what+" not found", map[string]string{"id": id})
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

// SessionSummary returns one session's summary.
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (storage.SessionSummary, error) {
	id, err := requireID("session id", sessionID)
	if err != nil {
		return storage.SessionSummary{}, err
	}
	summary, err := s.store.GetSessionSummary(ctx, id)
	if err != nil {
		return storage.SessionSummary{}, notFound(err, "session", id)
	}
	return summary, nil
}

// SessionSummaries returns every known session.
func (s *Service) SessionSummaries(ctx context.Context) ([]storage.SessionSummary, error) {
	return s.store.ListSessionSummaries(ctx)
}

// Submission returns one submission summary.
func (s *Service) Submission(ctx context.Context, submissionID string) (storage.SubmissionSummary, error) {
	id, err := requireID("submission id", submissionID)
	if err != nil {
		return storage.SubmissionSummary{}, err
	}
	summary, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return storage.SubmissionSummary{}, notFound(err, "submission", id)
	}
	return summary, nil
}

// SubmissionsBySession lists every submission row of a session, including
// withdrawn and rejected ones.
func (s *Service) SubmissionsBySession(ctx context.Context, sessionID string) ([]storage.SubmissionSummary, error) {
	id, err := requireID("session id", sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListSubmissionsBySession(ctx, id)
}

// SubmissionsByProfessor lists a professor's submissions across sessions.
func (s *Service) SubmissionsByProfessor(ctx context.Context, professorID string) ([]storage.SubmissionSummary, error) {
	id, err := requireID("professor id", professorID)
	if err != nil {
		return nil, err
	}
	return s.store.ListSubmissionsByProfessor(ctx, id)
}

// SubmissionForProfessor returns the professor's submission in a session,
// preferring the live one.
func (s *Service) SubmissionForProfessor(ctx context.Context, sessionID, professorID string) (storage.SubmissionSummary, error) {
	sid, err := requireID("session id", sessionID)
	if err != nil {
		return storage.SubmissionSummary{}, err
	}
	pid, err := requireID("professor id", professorID)
	if err != nil {
		return storage.SubmissionSummary{}, err
	}
	summary, err := s.store.GetSubmissionForProfessor(ctx, sid, pid)
	if err != nil {
		return storage.SubmissionSummary{}, notFound(err, "submission", sid+"/"+pid)
	}
	return summary, nil
}

// TimeSlotStatistics returns a session's slot counts, most requested first.
func (s *Service) TimeSlotStatistics(ctx context.Context, sessionID string) ([]storage.TimeSlotStatistic, error) {
	id, err := requireID("session id", sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTimeSlotStatistics(ctx, id)
}

// Lag describes how far the read model trails a known stream version.
type Lag struct {
	AggregateID string
	AppliedSeq  int64
	Version     int64
}

// CaughtUp reports whether the read model reflects Version.
func (l Lag) CaughtUp() bool { return l.AppliedSeq >= l.Version }

// Behind returns the number of unapplied events.
func (l Lag) Behind() int64 {
	if l.CaughtUp() {
		return 0
	}
	return l.Version - l.AppliedSeq
}

// ProjectionLag compares the watermark of aggregateID with version, which
// callers usually take from a command result.
func (s *Service) ProjectionLag(ctx context.Context, aggregateID string, version int64) (Lag, error) {
	id, err := requireID("aggregate id", aggregateID)
	if err != nil {
		return Lag{}, err
	}
	lag := Lag{AggregateID: id, AppliedSeq: event.NoVersion, Version: version}
	wm, err := s.store.GetWatermark(ctx, id)
	switch {
	case err == nil:
		lag.AppliedSeq = wm.AppliedSeq
	case !errors.Is(err, storage.ErrNotFound):
		return Lag{}, fmt.Errorf("get watermark %s: %w", id, err)
	}
	return lag, nil
}
