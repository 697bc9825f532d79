package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/errors"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/id"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
)

// SubmissionRepository executes submission commands and loads submission state.
type SubmissionRepository interface {
	Execute(ctx context.Context, aggregateID string, cmd submission.Command) (engine.Result[submission.State], error)
	Load(ctx context.Context, aggregateID string) (submission.State, int64, error)
}

// PeriodLoader loads period state for submission window checks.
type PeriodLoader interface {
	Load(ctx context.Context, aggregateID string) (period.State, int64, error)
}

// SubmissionResult is the state of a submission after a command.
type SubmissionResult struct {
	SubmissionID string
	State        submission.State
	Version      int64
}

// SubmitRequest records a professor's preferences. An empty SubmissionID
// gets a generated one.
type SubmitRequest struct {
	command.Metadata
	SubmissionID string
	ProfessorID  string
	SessionID    string
	Preferences  []submission.CoursePreference
	IsUpdate     bool
}

// UpdateRequest replaces the preferences of a submission.
type UpdateRequest struct {
	command.Metadata
	SubmissionID    string
	ProfessorID     string
	ExpectedVersion int
	Preferences     []submission.CoursePreference
	UpdateReason    string
}

// WithdrawRequest retracts a submission.
type WithdrawRequest struct {
	command.Metadata
	SubmissionID     string
	ProfessorID      string
	WithdrawalReason string
}

// SubmissionService handles preference submission commands.
type SubmissionService struct {
	submissions SubmissionRepository
	periods     PeriodLoader
	now         func() time.Time
	logger      *logging.Logger
	newID       func() (string, error)
}

// SubmissionOptions tunes a SubmissionService.
type SubmissionOptions struct {
	Now    func() time.Time
	Logger *logging.Logger
}

// NewSubmissionService builds a submission service.
func NewSubmissionService(submissions SubmissionRepository, periods PeriodLoader, opts SubmissionOptions) (*SubmissionService, error) {
	if submissions == nil {
		return nil, errors.New("submission repository is required")
	}
	if periods == nil {
		return nil, errors.New("period loader is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &SubmissionService{
		submissions: submissions,
		periods:     periods,
		now:         opts.Now,
		logger:      opts.Logger.Named("submission_service"),
		newID:       id.NewID,
	}, nil
}

// Submit records a new submission after checking that the period accepts it.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (SubmissionResult, error) {
	if err := s.checkWindow(ctx, req.SessionID); err != nil {
		return SubmissionResult{}, err
	}
	submissionID := strings.TrimSpace(req.SubmissionID)
	if submissionID == "" {
		generated, err := s.newID()
		if err != nil {
			return SubmissionResult{}, apperrors.Wrap(apperrors.CodeInternal, "generate submission id", err)
		}
		submissionID = generated
	}
	return s.execute(ctx, submissionID, submission.Submit{
		Metadata:            req.Metadata,
		ProfessorID:         req.ProfessorID,
		ExamSessionPeriodID: req.SessionID,
		Preferences:         req.Preferences,
		IsUpdate:            req.IsUpdate,
	})
}

// Update replaces preferences after checking that the submission's period
// still accepts changes.
func (s *SubmissionService) Update(ctx context.Context, req UpdateRequest) (SubmissionResult, error) {
	submissionID := strings.TrimSpace(req.SubmissionID)
	current, _, err := s.submissions.Load(ctx, submissionID)
	if err != nil {
		return SubmissionResult{}, executeError(err, submissionID)
	}
	// A missing submission is left to the decider so the rejection code is
	// the domain one.
	if current.Exists() {
		if err := s.checkWindow(ctx, current.ExamSessionPeriodID); err != nil {
			return SubmissionResult{}, err
		}
	}
	return s.execute(ctx, submissionID, submission.Update{
		Metadata:        req.Metadata,
		ProfessorID:     req.ProfessorID,
		ExpectedVersion: req.ExpectedVersion,
		Preferences:     req.Preferences,
		UpdateReason:    req.UpdateReason,
	})
}

// Withdraw retracts a submission. Withdrawal is allowed after the window
// closes.
func (s *SubmissionService) Withdraw(ctx context.Context, req WithdrawRequest) (SubmissionResult, error) {
	return s.execute(ctx, req.SubmissionID, submission.Withdraw{
		Metadata:         req.Metadata,
		ProfessorID:      req.ProfessorID,
		WithdrawnBy:      req.ActorID,
		WithdrawalReason: req.WithdrawalReason,
	})
}

// Get returns the current submission state, read from the event log.
func (s *SubmissionService) Get(ctx context.Context, submissionID string) (SubmissionResult, error) {
	submissionID = strings.TrimSpace(submissionID)
	state, version, err := s.submissions.Load(ctx, submissionID)
	if err != nil {
		return SubmissionResult{}, executeError(err, submissionID)
	}
	if !state.Exists() {
		return SubmissionResult{}, apperrors.WithMetadata(apperrors.CodeNotFound, "submission not found", map[string]string{"id": submissionID})
	}
	return SubmissionResult{SubmissionID: submissionID, State: state, Version: version}, nil
}

// checkWindow loads the period from the log. The check and the following
// command are not atomic: a window closing in between still admits the
// submission.
func (s *SubmissionService) checkWindow(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		// The decider reports the missing session.
		return nil
	}
	state, _, err := s.periods.Load(ctx, sessionID)
	if err != nil {
		return executeError(err, sessionID)
	}
	metadata := map[string]string{"session_id": sessionID}
	switch {
	case !state.Created:
		return apperrors.WithMetadata(apperrors.CodeSessionNotCreated, "exam session period does not exist", metadata)
	case !state.WindowOpen:
		return apperrors.WithMetadata(apperrors.CodeSubmissionWindowClosed, "submission window is not open", metadata)
	case s.now().After(state.SubmissionDeadline):
		metadata["deadline"] = state.SubmissionDeadline.UTC().Format(time.RFC3339)
		return apperrors.WithMetadata(apperrors.CodeSubmissionDeadlinePassed, "submission deadline has passed", metadata)
	}
	return nil
}

func (s *SubmissionService) execute(ctx context.Context, submissionID string, cmd submission.Command) (SubmissionResult, error) {
	submissionID = strings.TrimSpace(submissionID)
	res, err := s.submissions.Execute(ctx, submissionID, cmd)
	if err != nil {
		s.logger.Warn("submission command failed", "submission_id", submissionID, "command", fmt.Sprintf("%T", cmd), "error", err)
		return SubmissionResult{}, executeError(err, submissionID)
	}
	out := SubmissionResult{SubmissionID: submissionID, State: res.State, Version: res.Version}
	if rejected := rejectionError(res.Decision, submissionID); rejected != nil {
		s.logger.Info("submission command rejected", "submission_id", submissionID, "codes", res.Decision.Codes(), "audited", len(res.Decision.Events) > 0)
		return out, rejected
	}
	return out, nil
}
