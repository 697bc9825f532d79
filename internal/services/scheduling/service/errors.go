package service

import (
	"errors"
	"strings"

	apperrors "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/errors"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
)

// rejectionError converts a declined decision into an application error. The
// first rejection picks the code; every code is listed in the metadata.
func rejectionError(decision command.Decision, aggregateID string) error {
	if !decision.Rejected() {
		return nil
	}
	metadata := map[string]string{
		"aggregate_id": aggregateID,
		"codes":        strings.Join(decision.Codes(), ","),
	}
	return apperrors.WithMetadata(apperrors.Code(decision.Rejections[0].Code), decision.Message(), metadata)
}

// executeError maps repository failures onto application codes.
func executeError(err error, aggregateID string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, journal.ErrConcurrencyConflict):
		return apperrors.Wrap(apperrors.CodeConcurrencyConflict, "aggregate "+aggregateID+" changed concurrently", err)
	case errors.Is(err, engine.ErrAggregateBusy):
		return apperrors.Wrap(apperrors.CodeAggregateBusy, "aggregate "+aggregateID+" is busy", err)
	case errors.Is(err, engine.ErrAggregateIDRequired):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "aggregate id is required", err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "execute command for "+aggregateID, err)
	}
}
