package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cast"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidDocument marks a stored document that cannot be read as the
// requested shape. Callers skip such documents instead of failing.
var ErrInvalidDocument = errors.New("invalid document")

// FoldLabel lowercases s, trims it and strips diacritics, so that
// "Hectárea " and "hectarea" compare equal.
func FoldLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// ParseActivity reads a raw activity document. Only a missing or unknown
// type is fatal; every other key falls back to its zero value.
func ParseActivity(id, rev string, body []byte) (Activity, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Activity{}, fmt.Errorf("%w: activity %s: %v", ErrInvalidDocument, id, err)
	}

	typ, ok := ParseActivityType(stringValue(raw["type"]))
	if !ok {
		return Activity{}, fmt.Errorf("%w: activity %s has no valid type", ErrInvalidDocument, id)
	}

	a := Activity{
		ID:        id,
		Rev:       rev,
		UUID:      stringValue(raw["uuid"]),
		Type:      typ,
		State:     ParseActivityState(stringValue(raw["state"])),
		LotID:     stringValue(raw["lotId"]),
		FieldName: stringValue(raw["fieldName"]),
		LotName:   stringValue(raw["lotName"]),
		Comment:   stringValue(raw["comment"]),
		CreatedAt: timeValue(raw["createdAt"]),
		UpdatedAt: timeValue(raw["updatedAt"]),
	}

	if details, ok := raw["details"].(map[string]any); ok {
		a.Details = parseDetails(details)
	}
	return a, nil
}

func parseDetails(m map[string]any) ActivityDetails {
	return ActivityDetails{
		CropID:            stringValue(m["cropId"]),
		TentativeDate:     stringValue(m["tentativeDate"]),
		ExecutionDate:     stringValue(m["executionDate"]),
		StartTime:         stringValue(m["startTime"]),
		EndTime:           stringValue(m["endTime"]),
		YieldObtained:     floatPtr(m["yieldObtained"]),
		Deposit:           stringValue(m["deposit"]),
		SurfaceArea:       floatPtr(m["surfaceArea"]),
		Dose:              floatPtr(m["dose"]),
		InputID:           stringValue(m["inputId"]),
		ExecutionRecordID: stringValue(m["executionRecordId"]),
	}
}

// ParseLegacyLicense reads a raw legacy license document. It never fails:
// every missing or malformed value maps to its zero value.
func ParseLegacyLicense(docID string, body []byte) LegacyLicense {
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)

	return LegacyLicense{
		DocID:              docID,
		Code:               strings.TrimSpace(stringValue(raw["id"])),
		Description:        strings.TrimSpace(stringValue(raw["description"])),
		LicenceType:        stringValue(raw["licenceType"]),
		SystemType:         stringValue(raw["systemType"]),
		MaximumUnitAllowed: cast.ToInt(raw["maximumUnitAllowed"]),
	}
}

// stringValue coerces scalars to a string; objects and arrays become "".
func stringValue(v any) string {
	switch v.(type) {
	case nil, map[string]any, []any:
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

func floatPtr(v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

// timeValue accepts RFC 3339 strings and unix milliseconds.
func timeValue(v any) time.Time {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
		if parsed, err := cast.ToTimeE(t); err == nil {
			return parsed
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	}
	return time.Time{}
}
