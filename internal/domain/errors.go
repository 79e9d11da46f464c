package domain

import "errors"

var (
	ErrSchema              = errors.New("schema error")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrScalerUnavailable   = errors.New("scaler unavailable")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrFeatureMismatch     = errors.New("feature mismatch")
	ErrStoreUnavailable    = errors.New("job status store unavailable")
	ErrStoreWrite          = errors.New("job status store write failed")
	ErrTimeout             = errors.New("item processing timed out")
	ErrJobAlreadyRunning   = errors.New("job already running")
	ErrJobNotFound         = errors.New("job not found")
	ErrValidation          = errors.New("validation error")
	ErrCancelled           = errors.New("job cancelled before item was dispatched")
)

// Stable error codes exposed to callers and recorded as item failure reasons.
const (
	CodeSchema              = "SCHEMA_ERROR"
	CodeInsufficientHistory = "INSUFFICIENT_HISTORY"
	CodeScalerUnavailable   = "SCALER_UNAVAILABLE"
	CodeModelUnavailable    = "MODEL_UNAVAILABLE"
	CodeFeatureMismatch     = "FEATURE_MISMATCH"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeStoreWrite          = "STORE_WRITE_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeJobAlreadyRunning   = "JOB_ALREADY_RUNNING"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeCancelled           = "CANCELLED"
	CodeInternal            = "INTERNAL_ERROR"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrSchema, CodeSchema},
	{ErrInsufficientHistory, CodeInsufficientHistory},
	{ErrScalerUnavailable, CodeScalerUnavailable},
	{ErrModelUnavailable, CodeModelUnavailable},
	{ErrFeatureMismatch, CodeFeatureMismatch},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrStoreWrite, CodeStoreWrite},
	{ErrTimeout, CodeTimeout},
	{ErrJobAlreadyRunning, CodeJobAlreadyRunning},
	{ErrJobNotFound, CodeJobNotFound},
	{ErrValidation, CodeValidation},
	{ErrCancelled, CodeCancelled},
}

// ErrorCode maps a (possibly wrapped) error to its stable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// IsClientError reports whether err was caused by the request payload.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrInsufficientHistory)
}
