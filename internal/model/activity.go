package model

import (
	"strings"
	"time"
)

// ActivityType identifies the agronomic task an activity records.
type ActivityType string

// Activity types as written by the field mobile app.
const (
	ActivityTypeSowing      ActivityType = "siembra"
	ActivityTypeHarvest     ActivityType = "cosecha"
	ActivityTypeApplication ActivityType = "aplicacion"
	ActivityTypePreparation ActivityType = "preparacion"
)

// ActivityState is the lifecycle state of an activity.
type ActivityState string

// Activity states as written by the field mobile app.
const (
	StatePending    ActivityState = "pendiente"
	StateInProgress ActivityState = "en_curso"
	StateCompleted  ActivityState = "completada"
)

// ActivityIDPrefix is the key prefix shared by all activity documents.
const ActivityIDPrefix = "activity:"

// ExecutionIDPrefix is the key prefix of derived execution records.
const ExecutionIDPrefix = "execution:"

// Activity is an agronomic task record (sowing, harvest, application,
// preparation) tied to a lot.
type Activity struct {
	// ID is the store key. It is stable for the life of the document.
	ID string `json:"-"`

	// Rev is the store revision the activity was read at.
	Rev string `json:"-"`

	// UUID is the domain identifier. Historical records may carry a UUID
	// that differs from the one embedded in ID.
	UUID string `json:"uuid,omitempty"`

	Type  ActivityType  `json:"type"`
	State ActivityState `json:"state"`

	// LotID references a lot or field. Resolved through the field index,
	// never as a hard foreign key.
	LotID string `json:"lotId,omitempty"`

	// FieldName and LotName are display caches filled by enrichment.
	FieldName string `json:"fieldName,omitempty"`
	LotName   string `json:"lotName,omitempty"`

	Comment string          `json:"comment,omitempty"`
	Details ActivityDetails `json:"details"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActivityDetails is the loosely-typed payload of an activity. Which keys
// are populated depends on the activity state.
type ActivityDetails struct {
	CropID            string   `json:"cropId,omitempty"`
	TentativeDate     string   `json:"tentativeDate,omitempty"`
	ExecutionDate     string   `json:"executionDate,omitempty"`
	StartTime         string   `json:"startTime,omitempty"`
	EndTime           string   `json:"endTime,omitempty"`
	YieldObtained     *float64 `json:"yieldObtained,omitempty"`
	Deposit           string   `json:"deposit,omitempty"`
	SurfaceArea       *float64 `json:"surfaceArea,omitempty"`
	Dose              *float64 `json:"dose,omitempty"`
	InputID           string   `json:"inputId,omitempty"`
	ExecutionRecordID string   `json:"executionRecordId,omitempty"`
}

// ExecutionDetailKeys lists the details keys that only make sense once an
// activity has been executed. Resetting an activity removes all of them.
var ExecutionDetailKeys = []string{
	"executionDate",
	"startTime",
	"endTime",
	"yieldObtained",
	"deposit",
	"executionRecordId",
}

// ExecutionRecordKey returns the store key of the execution record derived
// from this activity, or "" when it cannot be derived.
func (a Activity) ExecutionRecordKey() string {
	if a.Details.ExecutionRecordID != "" {
		return a.Details.ExecutionRecordID
	}
	if a.Details.ExecutionDate == "" || a.UUID == "" {
		return ""
	}
	return ExecutionIDPrefix + a.Details.ExecutionDate + ":" + a.UUID
}

// transitions holds the state changes this engine recognises.
// in_progress -> pending is deliberately absent.
var transitions = map[ActivityState][]ActivityState{
	StatePending:    {StateInProgress},
	StateInProgress: {StateCompleted},
	StateCompleted:  {StatePending},
}

// CanTransition reports whether an activity may move from one state to another.
func CanTransition(from, to ActivityState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseActivityType normalises a stored type label. English names and
// accented spellings are accepted. It returns false for unknown labels.
func ParseActivityType(s string) (ActivityType, bool) {
	switch FoldLabel(s) {
	case "siembra", "sowing":
		return ActivityTypeSowing, true
	case "cosecha", "harvest":
		return ActivityTypeHarvest, true
	case "aplicacion", "application":
		return ActivityTypeApplication, true
	case "preparacion", "preparation":
		return ActivityTypePreparation, true
	}
	return "", false
}

// ParseActivityState normalises a stored state label. Unknown or missing
// labels map to pending.
func ParseActivityState(s string) ActivityState {
	switch strings.ReplaceAll(FoldLabel(s), " ", "_") {
	case "en_curso", "en_progreso", "in_progress", "inprogress":
		return StateInProgress
	case "completada", "completado", "completed", "finalizada":
		return StateCompleted
	default:
		return StatePending
	}
}
