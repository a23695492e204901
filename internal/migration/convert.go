package migration

import (
	"fmt"
	"strings"
	"time"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
)

const (
	// PlaceholderDescription replaces blank legacy descriptions.
	PlaceholderDescription = "Licencia migrada"

	// GeneratedCodePrefix starts codes synthesized for records without one.
	GeneratedCodePrefix = "MIGR-"

	DefaultLicenseType = model.LicenseTypeLicense
	DefaultSystemType  = model.SystemTypeFieldPartner
)

// licenseTypes maps normalized legacy labels to canonical license types.
var licenseTypes = map[string]model.LicenseType{
	"field":        model.LicenseTypeField,
	"campo":        model.LicenseTypeField,
	"campos":       model.LicenseTypeField,
	"por campo":    model.LicenseTypeField,
	"lote":         model.LicenseTypeField,
	"license":      model.LicenseTypeLicense,
	"licence":      model.LicenseTypeLicense,
	"licencia":     model.LicenseTypeLicense,
	"usuario":      model.LicenseTypeLicense,
	"user":         model.LicenseTypeLicense,
	"hectare":      model.LicenseTypeHectare,
	"hectares":     model.LicenseTypeHectare,
	"hectarea":     model.LicenseTypeHectare,
	"hectareas":    model.LicenseTypeHectare,
	"por hectarea": model.LicenseTypeHectare,
	"ha":           model.LicenseTypeHectare,
}

// systemTypes maps normalized legacy labels to canonical system types.
var systemTypes = map[string]model.SystemType{
	"field partner": model.SystemTypeFieldPartner,
	"fieldpartner":  model.SystemTypeFieldPartner,
	"fp":            model.SystemTypeFieldPartner,
	"agro tools":    model.SystemTypeAgroTools,
	"agrotools":     model.SystemTypeAgroTools,
	"farm manager":  model.SystemTypeFarmManager,
	"farmmanager":   model.SystemTypeFarmManager,
}

// normalizeLabel folds accents and case and treats '-' and '_' as spaces.
func normalizeLabel(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ").Replace(model.FoldLabel(s))
	return strings.Join(strings.Fields(s), " ")
}

// MapLicenseType maps a free-text legacy label, falling back to
// DefaultLicenseType.
func MapLicenseType(label string) model.LicenseType {
	if t, ok := licenseTypes[normalizeLabel(label)]; ok {
		return t
	}
	return DefaultLicenseType
}

// MapSystemType maps a free-text legacy label, falling back to
// DefaultSystemType.
func MapSystemType(label string) model.SystemType {
	if t, ok := systemTypes[normalizeLabel(label)]; ok {
		return t
	}
	return DefaultSystemType
}

// GeneratedCode returns the code synthesized for a record without one.
func GeneratedCode(now time.Time) string {
	return fmt.Sprintf("%s%d", GeneratedCodePrefix, now.UnixMilli())
}

// Convert maps a legacy record onto a canonical draft. It is total: every
// input yields a draft with a non-empty code and description and at least
// one allowed unit.
func Convert(rec model.LegacyLicense, now time.Time) model.LicenseDraft {
	code := strings.TrimSpace(rec.Code)
	if code == "" {
		code = GeneratedCode(now)
	}

	description := strings.TrimSpace(rec.Description)
	if description == "" {
		description = PlaceholderDescription
	}

	units := rec.MaximumUnitAllowed
	if units < 1 {
		units = 1
	}

	return model.LicenseDraft{
		Code:            code,
		Description:     description,
		LicenseType:     MapLicenseType(rec.LicenceType),
		MaxAllowedUnits: units,
		SystemType:      MapSystemType(rec.SystemType),
		MultiCountry:    false,
	}
}

// Validate lists what makes a legacy record unfit for migration.
func Validate(rec model.LegacyLicense) []string {
	var problems []string
	if strings.TrimSpace(rec.Code) == "" {
		problems = append(problems, "missing code")
	}
	if strings.TrimSpace(rec.Description) == "" {
		problems = append(problems, "missing description")
	}
	if rec.MaximumUnitAllowed < 1 {
		problems = append(problems, "maximum units must be positive")
	}
	return problems
}
