package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

// Disposition tells a consumer what to do with a delivery after its handler
// returned an error.
type Disposition string

const (
	// DispositionRetry leaves the message un-acknowledged so the broker
	// redelivers it once the visibility timeout lapses.
	DispositionRetry Disposition = "retry"
	// DispositionDeadLetter moves the message to the dead-letter path; it can
	// never succeed as sent.
	DispositionDeadLetter Disposition = "dead_letter"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// DispositionFor maps a handler error to the action the consumer should take.
// Malformed input and references to records that do not exist are fatal for
// the message; everything else is assumed to be transient.
func DispositionFor(err error) Disposition {
	switch {
	case err == nil:
		return DispositionRetry
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return DispositionDeadLetter
	default:
		return DispositionRetry
	}
}

// Hint returns a short operator-facing hint for an error marker.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "message is malformed; inspect the dead-letter entry"
	case errors.Is(err, ErrNotFound):
		return "referenced record or object does not exist"
	case errors.Is(err, ErrConfiguration):
		return "check gas config"
	case errors.Is(err, ErrExternalTool):
		return "annotation runner failed; see the job log"
	default:
		return "will be retried on redelivery"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
