package errors

import (
	"errors"

	"github.com/pscheid92/pollpulse/internal/domain"
)

// FromDomain maps an error returned by the poll services to a structured
// error. Errors that match no domain sentinel come from redis or the durable
// store and are reported as an unavailable dependency.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	switch {
	case errors.Is(err, domain.ErrPollNotFound):
		return NotFoundError("poll not found")
	case errors.Is(err, domain.ErrChoiceOutOfRange):
		return RejectedError("choice out of range")
	case errors.Is(err, domain.ErrInvalidPoll):
		return ValidationError(err.Error())
	default:
		return ExternalError("service temporarily unavailable", err)
	}
}
