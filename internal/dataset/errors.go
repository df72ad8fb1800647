package dataset

import (
	"errors"
	"fmt"
)

// ValidationError is a user-facing rejection of a request. The HTTP layer
// maps it to 400 with Msg as the error text.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	ErrNoDataset           = &ValidationError{Msg: "No dataset uploaded"}
	ErrNoFileSelected      = &ValidationError{Msg: "No file selected"}
	ErrMissingLabel        = &ValidationError{Msg: "Dataset must have a 'Label' column"}
	ErrNoNumericColumns    = &ValidationError{Msg: "No numeric columns available for feature selection."}
	ErrNoFeaturesSelected  = &ValidationError{Msg: "No features selected based on the median threshold."}
	ErrSelectionNotDone    = &ValidationError{Msg: "Feature selection not done"}
	ErrInvalidNormalizer   = &ValidationError{Msg: "Invalid normalization type"}
	ErrInvalidUploadType   = &ValidationError{Msg: "Invalid upload type"}
	ErrInvalidSelectMethod = &ValidationError{Msg: "Invalid feature selection method"}
)
