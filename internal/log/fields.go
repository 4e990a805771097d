package log

import (
	"context"
	"errors"

	"gastos/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldError        = "error"
	FieldErrorType    = "error_type"
	FieldOperation    = "operation"
	FieldUserID       = "user_id"
	FieldSourceID     = "source_id"
	FieldMonth        = "month"
	FieldMode         = "mode"
	FieldShard        = "shard"
	FieldShardCount   = "shard_count"
	FieldDuration     = "duration"
	FieldBackend      = "backend"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentStorage    = "storage"
	ComponentCache      = "cache"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentReplicator = "replicator"
	ComponentBackend    = "backend"
	ComponentCLI        = "cli"
)

// Operations defines standard operation names
const (
	OpList       = "list"
	OpMigrate    = "migrate"
	OpReplicate  = "replicate"
	OpInvalidate = "invalidate"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeInternal      = "internal_error"
)

// ErrorType classifies err for the error_type field.
func ErrorType(err error) string {
	switch {
	case core.IsValidation(err):
		return ErrorTypeValidation
	case core.IsConfiguration(err):
		return ErrorTypeConfiguration
	case core.IsNotFound(err):
		return ErrorTypeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	default:
		return ErrorTypeInternal
	}
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds the error and its category.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorType(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithUserID(userID string) LogFields {
	f[FieldUserID] = userID
	return f
}

// WithPeriod adds the month view fields.
func (f LogFields) WithPeriod(month core.MonthKey, mode core.ViewMode) LogFields {
	f[FieldMonth] = month.String()
	f[FieldMode] = string(mode)
	return f
}

func (f LogFields) WithShard(index, count int) LogFields {
	f[FieldShard] = index
	f[FieldShardCount] = count
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
