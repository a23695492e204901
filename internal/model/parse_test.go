package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActivity_FullDocument(t *testing.T) {
	body := []byte(`{
		"uuid": "u-1",
		"type": "Cosecha",
		"state": "completada",
		"lotId": "L1",
		"fieldName": "stale",
		"comment": "north corner",
		"details": {
			"executionDate": "2024-01-01",
			"yieldObtained": "42.5",
			"surfaceArea": 10,
			"deposit": "silo-3",
			"cropId": 7
		},
		"createdAt": "2024-01-01T10:00:00Z",
		"unknownKey": true
	}`)

	a, err := ParseActivity("activity:1:u-1", "1-abc", body)
	require.NoError(t, err)

	assert.Equal(t, "activity:1:u-1", a.ID)
	assert.Equal(t, "1-abc", a.Rev)
	assert.Equal(t, ActivityTypeHarvest, a.Type)
	assert.Equal(t, StateCompleted, a.State)
	assert.Equal(t, "L1", a.LotID)
	assert.Equal(t, "2024-01-01", a.Details.ExecutionDate)
	require.NotNil(t, a.Details.YieldObtained)
	assert.InDelta(t, 42.5, *a.Details.YieldObtained, 0.001)
	require.NotNil(t, a.Details.SurfaceArea)
	assert.InDelta(t, 10.0, *a.Details.SurfaceArea, 0.001)
	assert.Equal(t, "7", a.Details.CropID)
	assert.Equal(t, 2024, a.CreatedAt.Year())
}

func TestParseActivity_MissingTypeIsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no type", `{"state":"pendiente"}`},
		{"unknown type", `{"type":"riego"}`},
		{"object type", `{"type":{"name":"siembra"}}`},
		{"not json", `not-json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseActivity("activity:x", "1-a", []byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestParseActivity_DefaultsForMissingKeys(t *testing.T) {
	a, err := ParseActivity("activity:x", "", []byte(`{"type":"siembra","details":"oops"}`))
	require.NoError(t, err)

	assert.Equal(t, StatePending, a.State)
	assert.Empty(t, a.LotID)
	assert.Nil(t, a.Details.YieldObtained)
	assert.True(t, a.CreatedAt.IsZero())
}

func TestParseActivityState(t *testing.T) {
	assert.Equal(t, StateCompleted, ParseActivityState("Completada"))
	assert.Equal(t, StateCompleted, ParseActivityState("completed"))
	assert.Equal(t, StateInProgress, ParseActivityState("en curso"))
	assert.Equal(t, StateInProgress, ParseActivityState("in_progress"))
	assert.Equal(t, StatePending, ParseActivityState(""))
	assert.Equal(t, StatePending, ParseActivityState("whatever"))
}

func TestParseLegacyLicense_Loose(t *testing.T) {
	l := ParseLegacyLicense("licence:9", []byte(`{
		"id": " A1 ",
		"description": "Basic",
		"licenceType": "Hectárea",
		"systemType": "Agro Tools",
		"maximumUnitAllowed": "25"
	}`))

	assert.Equal(t, "licence:9", l.DocID)
	assert.Equal(t, "A1", l.Code)
	assert.Equal(t, "Basic", l.Description)
	assert.Equal(t, "Hectárea", l.LicenceType)
	assert.Equal(t, 25, l.MaximumUnitAllowed)
}

func TestParseLegacyLicense_Garbage(t *testing.T) {
	l := ParseLegacyLicense("licence:bad", []byte(`[1,2,3]`))
	assert.Equal(t, "licence:bad", l.DocID)
	assert.Empty(t, l.Code)
	assert.Zero(t, l.MaximumUnitAllowed)
}

func TestFoldLabel(t *testing.T) {
	assert.Equal(t, "hectarea", FoldLabel("  Hectárea "))
	assert.Equal(t, "aplicacion", FoldLabel("APLICACIÓN"))
	assert.Equal(t, "", FoldLabel(""))
}
