package adapter

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pipevine/pipevine/pkg/models"
)

// cardinalitySchemas holds one JSON schema per known task type, describing the
// payload cardinality that type consumes.
var cardinalitySchemas = map[models.TaskType]string{
	models.TaskTypeClean:    collectionSchema,
	models.TaskTypeMerge:    collectionSchema,
	models.TaskTypeAnalyze:  collectionSchema,
	models.TaskTypeReport:   aggregateSchema,
	models.TaskTypeValidate: aggregateSchema,
}

const collectionSchema = `{
	"type": "array",
	"items": {}
}`

const aggregateSchema = `{
	"not": {
		"type": "array",
		"minItems": 2
	}
}`

// Validator checks adapted payloads against the cardinality schema of the
// target task type. Task outputs are otherwise opaque, so the schemas are
// deliberately loose: they only pin down collection-vs-aggregate shape.
type Validator struct {
	schemas map[models.TaskType]*gojsonschema.Schema
}

// NewValidator compiles the per-task-type schemas.
func NewValidator() (*Validator, error) {
	compiled := make(map[models.TaskType]*gojsonschema.Schema, len(cardinalitySchemas))

	for taskType, raw := range cardinalitySchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for task type %s: %w", taskType, err)
		}

		compiled[taskType] = schema
	}

	return &Validator{schemas: compiled}, nil
}

// Validate checks the payload against the schema for the task type. Unknown
// task types validate trivially.
func (v *Validator) Validate(taskType models.TaskType, payload any) error {
	schema, ok := v.schemas[taskType]
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("failed to validate payload for task type %s: %w", taskType, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("payload does not match %s cardinality: %s", taskType, strings.Join(details, "; "))
}
