package models

import "errors"

// Model-specific errors
var (
	ErrModelNotFound    = errors.New("model not found")
	ErrValidationFailed = errors.New("validation failed")
	ErrDuplicateModel   = errors.New("duplicate model id")
	ErrInvalidSchedule  = errors.New("invalid refresh schedule")
)
