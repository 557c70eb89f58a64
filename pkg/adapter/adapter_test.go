package adapter

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipevine/pipevine/pkg/models"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	validator, err := NewValidator()
	require.NoError(t, err)

	return New(slog.Default(), validator)
}

func TestAdapt_FirstTaskAlwaysGetsInitialInput(t *testing.T) {
	a := newTestAdapter(t)

	initial := []any{map[string]any{"ref": "file-1"}, map[string]any{"ref": "file-2"}}

	// Even with leftover "previous" data, the first task sees the initial input.
	payload := a.Adapt(context.Background(), "stale", models.TaskTypeClean, true, initial)
	assert.Equal(t, initial, payload)
}

func TestAdapt_CollectionTypes(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	collection := []any{map[string]any{"row": 1}, map[string]any{"row": 2}}
	bare := map[string]any{"summary": "ok"}

	for _, taskType := range []models.TaskType{models.TaskTypeClean, models.TaskTypeMerge, models.TaskTypeAnalyze} {
		t.Run(string(taskType), func(t *testing.T) {
			// Sequences pass through unchanged.
			assert.Equal(t, collection, a.Adapt(ctx, collection, taskType, false, nil))

			// A bare record is wrapped into a one-element sequence.
			assert.Equal(t, []any{bare}, a.Adapt(ctx, bare, taskType, false, nil))
		})
	}
}

func TestAdapt_AggregateTypes(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	bare := map[string]any{"summary": "ok"}
	single := []any{bare}
	many := []any{map[string]any{"row": 1}, map[string]any{"row": 2}}

	for _, taskType := range []models.TaskType{models.TaskTypeReport, models.TaskTypeValidate} {
		t.Run(string(taskType), func(t *testing.T) {
			// A one-element sequence is unwrapped to its element.
			assert.Equal(t, bare, a.Adapt(ctx, single, taskType, false, nil))

			// A bare value passes through unchanged.
			assert.Equal(t, bare, a.Adapt(ctx, bare, taskType, false, nil))

			// A multi-element sequence passes through; the backend decides.
			assert.Equal(t, many, a.Adapt(ctx, many, taskType, false, nil))
		})
	}
}

func TestAdapt_AnalyzeThenReport(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	// analyze emits a single-element collection, report unwraps it.
	analyzed := []any{map[string]any{"stats": map[string]any{"rows": 42}}}
	payload := a.Adapt(ctx, analyzed, models.TaskTypeReport, false, nil)
	assert.Equal(t, analyzed[0], payload)

	// Adapting the already-bare aggregate again is a no-op.
	assert.Equal(t, payload, a.Adapt(ctx, payload, models.TaskTypeValidate, false, nil))
}

func TestAdapt_UnknownTypePassesThrough(t *testing.T) {
	a := newTestAdapter(t)

	previous := map[string]any{"anything": true}
	payload := a.Adapt(context.Background(), previous, models.TaskType("transmogrify"), false, nil)
	assert.Equal(t, previous, payload)
}

func TestAdapt_NilValidator(t *testing.T) {
	a := New(slog.Default(), nil)

	collection := []any{1, 2, 3}
	assert.Equal(t, collection, a.Adapt(context.Background(), collection, models.TaskTypeClean, false, nil))
}

func TestValidator_Cardinality(t *testing.T) {
	validator, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, validator.Validate(models.TaskTypeClean, []any{map[string]any{"row": 1}}))
	assert.Error(t, validator.Validate(models.TaskTypeClean, map[string]any{"row": 1}))

	assert.NoError(t, validator.Validate(models.TaskTypeReport, map[string]any{"summary": "ok"}))
	assert.Error(t, validator.Validate(models.TaskTypeReport, []any{1, 2}))

	// Unknown types validate trivially.
	assert.NoError(t, validator.Validate(models.TaskType("transmogrify"), []any{1, 2}))
}
