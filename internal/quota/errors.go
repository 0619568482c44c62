package quota

import (
	"context"
	"errors"
	"net"

	"github.com/lib/pq"
	"github.com/quotaguard/quotaguard/internal/limits"
)

// Errors
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrIndeterminate = errors.New("store unavailable, result indeterminate")
)

// Class is the internal error taxonomy, used for logging, metrics, and
// the fail-open/fail-closed policy. It is never exposed to end users.
type Class string

const (
	ClassConfigMissing    Class = "config_missing"
	ClassStoreUnavailable Class = "store_unavailable"
	ClassAuditUnavailable Class = "audit_unavailable"
	ClassInvalidInput     Class = "invalid_input"
	ClassRaceDetected     Class = "race_detected"
	ClassInternal         Class = "internal"
)

// Classify maps an error to its taxonomy class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, limits.ErrInvalidConfig):
		return ClassInvalidInput
	case errors.Is(err, limits.ErrConfigMissing):
		return ClassConfigMissing
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassStoreUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassStoreUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return ClassRaceDetected
		case "53300", "57P01", "57P02", "57P03", "08000", "08003", "08006":
			return ClassStoreUnavailable
		}
	}

	return ClassInternal
}

// Unavailable reports whether the error means the backing store could not
// answer, as opposed to answering with a failure.
func Unavailable(err error) bool {
	switch Classify(err) {
	case ClassStoreUnavailable, ClassRaceDetected:
		return true
	}
	return false
}
