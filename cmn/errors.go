package cmn

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// InvalidInputError is spec.md section 7's InvalidInput class: an empty
// token sequence, a token outside the vocabulary, or an unknown worker id
// on finish. It is reported to the caller and mutates no state.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

func NewInvalidInputError(format string, args ...interface{}) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidInput reports whether err (or one of its causes) is an
// InvalidInputError.
func IsInvalidInput(err error) bool {
	var e *InvalidInputError
	return errors.As(err, &e)
}

// Wrap and Cause re-export pkg/errors so callers outside cmn don't need to
// import it directly for ordinary error plumbing.
var (
	Wrap  = pkgerrors.Wrap
	Wrapf = pkgerrors.Wrapf
	Cause = pkgerrors.Cause
)
