package conversion

import "errors"

// errSubmit marks failures that happened before any job ran, so the
// terminal cause reads ConversionSubmitFailed rather than
// ConversionFailed.
var errSubmit = errors.New("conversion submit failed")

type submitFailure struct {
	err error
}

func (f *submitFailure) Error() string { return f.err.Error() }

func (f *submitFailure) Unwrap() []error { return []error{f.err, errSubmit} }

func markSubmitFailure(err error) error {
	return &submitFailure{err: err}
}

func isSubmitFailure(err error) bool {
	return errors.Is(err, errSubmit)
}
