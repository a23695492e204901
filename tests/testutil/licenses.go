package testutil

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
)

// ErrRejected is returned by FakeLicenses for codes marked with Reject.
var ErrRejected = errors.New("license rejected by destination")

// FakeLicenses is an in-memory canonical license system. It records every
// write in order so tests can assert on what was sent.
type FakeLicenses struct {
	mu      sync.Mutex
	records []model.CanonicalLicense
	reject  map[string]bool
	listErr error
	nextID  int
	writes  []string
}

// NewFakeLicenses returns a destination preloaded with existing records.
func NewFakeLicenses(existing ...model.CanonicalLicense) *FakeLicenses {
	f := &FakeLicenses{reject: make(map[string]bool)}
	for _, lic := range existing {
		if lic.ID == "" {
			f.nextID++
			lic.ID = "lic-" + strconv.Itoa(f.nextID)
		}
		f.records = append(f.records, lic)
	}
	return f
}

// Reject makes writes of the given code fail.
func (f *FakeLicenses) Reject(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject[code] = true
}

// FailList makes List return err.
func (f *FakeLicenses) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// Records returns a copy of the stored licenses.
func (f *FakeLicenses) Records() []model.CanonicalLicense {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CanonicalLicense(nil), f.records...)
}

// Writes returns "create:<code>" and "update:<id>" entries in call order.
func (f *FakeLicenses) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *FakeLicenses) List(_ context.Context) ([]model.CanonicalLicense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.CanonicalLicense(nil), f.records...), nil
}

func (f *FakeLicenses) Create(_ context.Context, draft model.LicenseDraft) (*model.CanonicalLicense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, "create:"+draft.Code)
	if f.reject[draft.Code] {
		return nil, ErrRejected
	}
	f.nextID++
	lic := fromDraft("lic-"+strconv.Itoa(f.nextID), draft)
	f.records = append(f.records, lic)
	return &lic, nil
}

func (f *FakeLicenses) Update(_ context.Context, id string, draft model.LicenseDraft) (*model.CanonicalLicense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, "update:"+id)
	if f.reject[draft.Code] {
		return nil, ErrRejected
	}
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i] = fromDraft(id, draft)
			lic := f.records[i]
			return &lic, nil
		}
	}
	return nil, errors.New("license not found: " + id)
}

func fromDraft(id string, d model.LicenseDraft) model.CanonicalLicense {
	return model.CanonicalLicense{
		ID:              id,
		Code:            d.Code,
		Description:     d.Description,
		LicenseType:     d.LicenseType,
		MaxAllowedUnits: d.MaxAllowedUnits,
		SystemType:      d.SystemType,
		MultiCountry:    d.MultiCountry,
	}
}
