package model

// Field is a cultivated parcel. It may come from a standalone document or
// from an entry of a container document's lotes array.
type Field struct {
	ID              string   `json:"id"`
	UUID            string   `json:"uuid"`
	Name            string   `json:"name"`
	ParentFieldName string   `json:"parentFieldName,omitempty"`
	OwnerAccountID  string   `json:"ownerAccountId,omitempty"`
	SurfaceArea     *float64 `json:"surfaceArea,omitempty"`
}

// LotRef is the display information a lot identifier resolves to.
type LotRef struct {
	LotName        string `json:"lotName"`
	FieldName      string `json:"fieldName"`
	OwnerAccountID string `json:"ownerAccountId,omitempty"`
}
