package model

import "time"

// LicenseType is the canonical license billing unit.
type LicenseType string

const (
	LicenseTypeField   LicenseType = "field"
	LicenseTypeLicense LicenseType = "license"
	LicenseTypeHectare LicenseType = "hectare"
)

// SystemType is the canonical product a license applies to.
type SystemType string

const (
	SystemTypeFieldPartner SystemType = "field-partner"
	SystemTypeAgroTools    SystemType = "agro-tools"
	SystemTypeFarmManager  SystemType = "farm-manager"
)

// LegacyLicense is a flat license record from the local legacy collection.
// All values are free text as typed by operators.
type LegacyLicense struct {
	// DocID is the store key of the legacy document.
	DocID string `json:"-"`

	// Code is the external license code. May be empty in old records.
	Code string `json:"id"`

	Description        string `json:"description"`
	LicenceType        string `json:"licenceType"`
	SystemType         string `json:"systemType"`
	MaximumUnitAllowed int    `json:"maximumUnitAllowed"`
}

// LicenseDraft is the payload used to create or replace a canonical license.
type LicenseDraft struct {
	Code            string      `json:"code"`
	Description     string      `json:"description"`
	LicenseType     LicenseType `json:"licenseType"`
	MaxAllowedUnits int         `json:"maxAllowedUnits"`
	SystemType      SystemType  `json:"systemType"`
	MultiCountry    bool        `json:"multiCountry"`
}

// CanonicalLicense is the backend's authoritative license record.
type CanonicalLicense struct {
	ID              string      `json:"id"`
	Code            string      `json:"code"`
	Description     string      `json:"description"`
	LicenseType     LicenseType `json:"licenseType"`
	MaxAllowedUnits int         `json:"maxAllowedUnits"`
	SystemType      SystemType  `json:"systemType"`
	MultiCountry    bool        `json:"multiCountry"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}
