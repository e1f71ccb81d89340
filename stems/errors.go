package stems

import "errors"

var (
	// ErrInvalidConfig reports a configuration rejected before processing.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownCategory reports a stem name outside the known categories.
	ErrUnknownCategory = errors.New("unknown stem category")

	// ErrSeparation reports a failed or empty coarse separation.
	ErrSeparation = errors.New("separation failed")

	// ErrDecode reports a stem that could not be decoded.
	ErrDecode = errors.New("decode failed")

	// ErrDuplicateStem reports a second record with an existing name.
	ErrDuplicateStem = errors.New("duplicate stem name")
)
