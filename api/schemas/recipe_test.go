// File: api/schemas/recipe_test.go
package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenfin/wren/api/schemas"
)

func validClick() schemas.RecordingStep {
	return schemas.RecordingStep{
		Type:           schemas.StepClick,
		Identification: schemas.ElementIdentification{Text: "Export Transactions", Role: "button"},
		Timestamp:      1700000000000,
	}
}

func TestRecordingStepValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    schemas.RecordingStep
		wantErr bool
	}{
		{"valid click", validClick(), false},
		{
			"click without identification",
			schemas.RecordingStep{Type: schemas.StepClick},
			true,
		},
		{
			"coordinates alone are enough",
			schemas.RecordingStep{
				Type:           schemas.StepClick,
				Identification: schemas.ElementIdentification{Coordinates: &schemas.Point{X: 10, Y: 20}},
			},
			false,
		},
		{
			"plain input with value",
			schemas.RecordingStep{
				Type:           schemas.StepInput,
				Identification: schemas.ElementIdentification{Placeholder: "Username"},
				Value:          "alex",
			},
			false,
		},
		{
			"sensitive input must be redacted",
			schemas.RecordingStep{
				Type:           schemas.StepInput,
				Identification: schemas.ElementIdentification{Placeholder: "Password"},
				Value:          "hunter2",
				IsSensitive:    true,
			},
			true,
		},
		{
			"sensitive input with redaction marker",
			schemas.RecordingStep{
				Type:           schemas.StepInput,
				Identification: schemas.ElementIdentification{Placeholder: "Password"},
				Value:          schemas.RedactedValue,
				IsSensitive:    true,
			},
			false,
		},
		{
			"navigation needs a url",
			schemas.RecordingStep{Type: schemas.StepNavigation},
			true,
		},
		{
			"valid navigation",
			schemas.RecordingStep{Type: schemas.StepNavigation, Value: "https://bank.example/home"},
			false,
		},
		{
			"unknown type",
			schemas.RecordingStep{Type: "hover"},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecipeValidate(t *testing.T) {
	recipe := schemas.Recipe{
		ID:       "r1",
		Name:     "chase-checking",
		StartURL: "https://bank.example/login",
		Steps:    []schemas.RecordingStep{validClick()},
	}
	require.NoError(t, recipe.Validate())

	missingURL := recipe
	missingURL.StartURL = ""
	assert.Error(t, missingURL.Validate())

	missingName := recipe
	missingName.Name = ""
	assert.Error(t, missingName.Validate())

	badStep := recipe
	badStep.Steps = append([]schemas.RecordingStep{}, recipe.Steps...)
	badStep.Steps = append(badStep.Steps, schemas.RecordingStep{Type: schemas.StepClick})
	err := badStep.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}

func TestElementIdentificationIsEmpty(t *testing.T) {
	assert.True(t, schemas.ElementIdentification{}.IsEmpty())
	assert.True(t, schemas.ElementIdentification{Role: "button"}.IsEmpty())
	assert.False(t, schemas.ElementIdentification{NearbyLabels: []string{"Account number"}}.IsEmpty())
	assert.False(t, schemas.ElementIdentification{Text: "Export"}.IsEmpty())
	assert.False(t, schemas.ElementIdentification{Coordinates: &schemas.Point{X: 1, Y: 2}}.IsEmpty())
}
