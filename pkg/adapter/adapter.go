// Package adapter reshapes one task's output into the input cardinality the next
// task's type expects. Upstream and downstream task kinds disagree on cardinality
// (collection vs. single aggregate); getting this wrong either crashes the downstream
// task or silently processes zero records.
package adapter

import (
	"context"
	"log/slog"

	"github.com/pipevine/pipevine/pkg/models"
)

// shapeFunc transforms a previous task's output into the payload shape a task type expects.
type shapeFunc func(previous any) any

// shapes maps every known task type to its shape transform. Collection types
// (clean, merge, analyze) consume a sequence of records; aggregate types
// (report, validate) consume a single value.
var shapes = map[models.TaskType]shapeFunc{
	models.TaskTypeClean:    toCollection,
	models.TaskTypeMerge:    toCollection,
	models.TaskTypeAnalyze:  toCollection,
	models.TaskTypeReport:   toAggregate,
	models.TaskTypeValidate: toAggregate,
}

// Adapter shapes task payloads and optionally validates them against the
// cardinality schema of the target task type.
type Adapter struct {
	logger    *slog.Logger
	validator *Validator
}

// New creates an adapter. The validator may be nil, in which case payloads are
// forwarded best-effort without schema checks.
func New(logger *slog.Logger, validator *Validator) *Adapter {
	return &Adapter{
		logger:    logger.With("module", "adapter"),
		validator: validator,
	}
}

// Adapt returns the payload for the given task. The first task of a run always
// receives the initial input records; later tasks receive the previous task's
// output reshaped for their type. Unknown task types pass the previous output
// through unchanged with a warning.
func (a *Adapter) Adapt(ctx context.Context, previous any, next models.TaskType, isFirstTask bool, initialInput []any) any {
	if isFirstTask {
		return initialInput
	}

	shape, ok := shapes[next]
	if !ok {
		a.logger.WarnContext(ctx, "Unknown task type, passing previous output through unchanged", "task_type", next)

		return previous
	}

	payload := shape(previous)

	if a.validator != nil {
		if err := a.validator.Validate(next, payload); err != nil {
			// Validation stays advisory: the remote backend is the authority
			// on whether a payload is acceptable.
			a.logger.WarnContext(ctx, "Adapted payload does not match expected shape", "task_type", next, "error", err)
		}
	}

	return payload
}

// toCollection passes sequences through unchanged and wraps a bare record into a
// one-element sequence.
func toCollection(previous any) any {
	if _, ok := previous.([]any); ok {
		return previous
	}

	return []any{previous}
}

// toAggregate unwraps a one-element sequence to its bare element; everything
// else passes through unchanged.
func toAggregate(previous any) any {
	if seq, ok := previous.([]any); ok && len(seq) == 1 {
		return seq[0]
	}

	return previous
}
