// Package errors provides structured application errors for the scheduling
// service and their gRPC mapping.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"
	// CodeInternal marks failures that are not the caller's fault.
	CodeInternal Code = "INTERNAL"

	// Generic request errors
	CodeInvalidArgument        Code = "INVALID_ARGUMENT"
	CodeCommandTypeUnsupported Code = "COMMAND_TYPE_UNSUPPORTED"

	// Exam session period errors
	CodeSessionAcademicYearRequired Code = "SESSION_ACADEMIC_YEAR_REQUIRED"
	CodeSessionExamSessionRequired  Code = "SESSION_EXAM_SESSION_REQUIRED"
	CodeSessionInvalidPlannedRange  Code = "SESSION_INVALID_PLANNED_RANGE"
	CodeSessionAlreadyCreated       Code = "SESSION_ALREADY_CREATED"
	CodeSessionNotCreated           Code = "SESSION_NOT_CREATED"
	CodeSessionWindowAlreadyOpen    Code = "SESSION_WINDOW_ALREADY_OPEN"
	CodeSessionWindowNotOpen        Code = "SESSION_WINDOW_NOT_OPEN"
	CodeSessionDeadlineNotInFuture  Code = "SESSION_DEADLINE_NOT_IN_FUTURE"
	CodeSessionNegativeSubmissions  Code = "SESSION_NEGATIVE_SUBMISSION_COUNT"

	// Preference submission errors
	CodeSubmissionProfessorRequired Code = "SUBMISSION_PROFESSOR_REQUIRED"
	CodeSubmissionSessionRequired   Code = "SUBMISSION_SESSION_REQUIRED"
	CodeSubmissionPreferencesEmpty  Code = "SUBMISSION_PREFERENCES_EMPTY"
	CodeSubmissionAlreadyExists     Code = "SUBMISSION_ALREADY_EXISTS"
	CodeSubmissionNotFound          Code = "SUBMISSION_NOT_FOUND"
	CodeSubmissionWithdrawn         Code = "SUBMISSION_WITHDRAWN"
	CodeSubmissionProfessorMismatch Code = "SUBMISSION_PROFESSOR_MISMATCH"
	CodeSubmissionVersionConflict   Code = "SUBMISSION_VERSION_CONFLICT"
	CodeSubmissionWindowClosed      Code = "SUBMISSION_WINDOW_CLOSED"
	CodeSubmissionDeadlinePassed    Code = "SUBMISSION_DEADLINE_PASSED"

	// Preference validation errors
	CodeCourseIDRequired     Code = "COURSE_ID_REQUIRED"
	CodeTimePreferencesEmpty Code = "TIME_PREFERENCES_EMPTY"
	CodeTimeSlotInvalid      Code = "TIME_SLOT_INVALID"
	CodeTimeSlotConflict     Code = "TIME_SLOT_CONFLICT"

	// Storage and concurrency errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeAggregateBusy       Code = "AGGREGATE_BUSY"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidArgument,
		CodeCommandTypeUnsupported,
		CodeSessionAcademicYearRequired,
		CodeSessionExamSessionRequired,
		CodeSessionInvalidPlannedRange,
		CodeSessionDeadlineNotInFuture,
		CodeSessionNegativeSubmissions,
		CodeSubmissionProfessorRequired,
		CodeSubmissionSessionRequired,
		CodeSubmissionPreferencesEmpty,
		CodeCourseIDRequired,
		CodeTimePreferencesEmpty,
		CodeTimeSlotInvalid,
		CodeTimeSlotConflict:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeSessionNotCreated,
		CodeSessionWindowAlreadyOpen,
		CodeSessionWindowNotOpen,
		CodeSubmissionWithdrawn,
		CodeSubmissionWindowClosed,
		CodeSubmissionDeadlinePassed:
		return codes.FailedPrecondition

	// PermissionDenied - caller acts on someone else's submission
	case CodeSubmissionProfessorMismatch:
		return codes.PermissionDenied

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeSubmissionNotFound:
		return codes.NotFound

	// AlreadyExists - aggregate already has a history
	case CodeSessionAlreadyCreated,
		CodeSubmissionAlreadyExists:
		return codes.AlreadyExists

	// Aborted - optimistic concurrency lost; reload and retry
	case CodeConcurrencyConflict,
		CodeSubmissionVersionConflict:
		return codes.Aborted

	// Unavailable - lock contention; retry later
	case CodeAggregateBusy:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}

// Retryable reports whether a caller may resubmit the same request after
// reloading state.
func (c Code) Retryable() bool {
	switch c.GRPCCode() {
	case codes.Aborted, codes.Unavailable:
		return true
	default:
		return false
	}
}
