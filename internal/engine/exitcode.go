package engine

import (
	"errors"

	"github.com/foreigner-chat/chatload/internal/config"
)

// Process exit codes, following the k6 numbering.
const (
	ExitPassed           = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
	ExitAborted          = 105
)

// ExitCode maps the outcome of Run (or of building the engine) to a
// process exit status.
func ExitCode(summary *Summary, err error) int {
	var verrs *config.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return ExitInvalidConfig
	case errors.Is(err, ErrAborted):
		return ExitAborted
	case err != nil:
		return ExitError
	case summary == nil:
		return ExitError
	case !summary.Passed:
		return ExitThresholdsFailed
	default:
		return ExitPassed
	}
}
