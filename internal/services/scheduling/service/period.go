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
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

// PeriodRepository executes period commands and loads period state.
type PeriodRepository interface {
	Execute(ctx context.Context, aggregateID string, cmd period.Command) (engine.Result[period.State], error)
	Load(ctx context.Context, aggregateID string) (period.State, int64, error)
}

// SessionCounter reads the projected submission count of a session.
type SessionCounter interface {
	GetSessionSummary(ctx context.Context, sessionID string) (storage.SessionSummary, error)
}

// PeriodResult is the state of a period after a command.
type PeriodResult struct {
	SessionID string
	State     period.State
	Version   int64
}

// CreatePeriodRequest starts a new exam session period. An empty SessionID
// gets a generated one.
type CreatePeriodRequest struct {
	command.Metadata
	SessionID    string
	AcademicYear string
	ExamSession  string
	PlannedStart time.Time
	PlannedEnd   time.Time
	Description  string
}

// OpenWindowRequest opens the submission window of a period.
type OpenWindowRequest struct {
	command.Metadata
	SessionID          string
	SubmissionDeadline time.Time
	Description        string
}

// CloseWindowRequest closes the submission window of a period.
type CloseWindowRequest struct {
	command.Metadata
	SessionID string
	Reason    string
	// TotalSubmissions overrides the projected count when set.
	TotalSubmissions *int
}

// PeriodService handles exam session period commands.
type PeriodService struct {
	periods PeriodRepository
	counts  SessionCounter
	logger  *logging.Logger
	newID   func() (string, error)
}

// NewPeriodService builds a period service. counts may be nil, in which case
// CloseWindow records zero unless the caller supplies a total.
func NewPeriodService(periods PeriodRepository, counts SessionCounter, logger *logging.Logger) (*PeriodService, error) {
	if periods == nil {
		return nil, errors.New("period repository is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &PeriodService{
		periods: periods,
		counts:  counts,
		logger:  logger.Named("period_service"),
		newID:   id.NewID,
	}, nil
}

// Create starts a period.
func (s *PeriodService) Create(ctx context.Context, req CreatePeriodRequest) (PeriodResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		generated, err := s.newID()
		if err != nil {
			return PeriodResult{}, apperrors.Wrap(apperrors.CodeInternal, "generate session id", err)
		}
		sessionID = generated
	}
	return s.execute(ctx, sessionID, period.Create{
		Metadata:     req.Metadata,
		AcademicYear: req.AcademicYear,
		ExamSession:  req.ExamSession,
		CreatedBy:    req.ActorID,
		PlannedStart: req.PlannedStart,
		PlannedEnd:   req.PlannedEnd,
		Description:  req.Description,
	})
}

// OpenWindow opens the submission window until the deadline.
func (s *PeriodService) OpenWindow(ctx context.Context, req OpenWindowRequest) (PeriodResult, error) {
	return s.execute(ctx, req.SessionID, period.OpenSubmissionWindow{
		Metadata:           req.Metadata,
		OpenedBy:           req.ActorID,
		SubmissionDeadline: req.SubmissionDeadline,
		Description:        req.Description,
	})
}

// CloseWindow closes the submission window. Without an explicit total the
// projected submission count is recorded, which may trail very recent
// submissions.
func (s *PeriodService) CloseWindow(ctx context.Context, req CloseWindowRequest) (PeriodResult, error) {
	total := 0
	if req.TotalSubmissions != nil {
		total = *req.TotalSubmissions
	} else {
		counted, err := s.projectedCount(ctx, req.SessionID)
		if err != nil {
			return PeriodResult{}, err
		}
		total = counted
	}
	return s.execute(ctx, req.SessionID, period.CloseSubmissionWindow{
		Metadata:         req.Metadata,
		ClosedBy:         req.ActorID,
		Reason:           req.Reason,
		TotalSubmissions: total,
	})
}

// Get returns the current period state, read from the event log.
func (s *PeriodService) Get(ctx context.Context, sessionID string) (PeriodResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	state, version, err := s.periods.Load(ctx, sessionID)
	if err != nil {
		return PeriodResult{}, executeError(err, sessionID)
	}
	if !state.Created {
		return PeriodResult{}, apperrors.WithMetadata(apperrors.CodeNotFound, "exam session period not found", map[string]string{"id": sessionID})
	}
	return PeriodResult{SessionID: sessionID, State: state, Version: version}, nil
}

func (s *PeriodService) projectedCount(ctx context.Context, sessionID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if s.counts == nil || sessionID == "" {
		return 0, nil
	}
	summary, err := s.counts.GetSessionSummary(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, fmt.Sprintf("count submissions for %s", sessionID), err)
	}
	return summary.SubmissionCount, nil
}

func (s *PeriodService) execute(ctx context.Context, sessionID string, cmd period.Command) (PeriodResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	res, err := s.periods.Execute(ctx, sessionID, cmd)
	if err != nil {
		s.logger.Warn("period command failed", "session_id", sessionID, "command", fmt.Sprintf("%T", cmd), "error", err)
		return PeriodResult{}, executeError(err, sessionID)
	}
	out := PeriodResult{SessionID: sessionID, State: res.State, Version: res.Version}
	if rejected := rejectionError(res.Decision, sessionID); rejected != nil {
		s.logger.Info("period command rejected", "session_id", sessionID, "codes", res.Decision.Codes())
		return out, rejected
	}
	return out, nil
}
