package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/buger/jsonparser"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
)

// LicenseClient talks to the canonical license API.
type LicenseClient struct {
	client *Client
}

// NewLicenseClient wraps c for the /licenses endpoints.
func NewLicenseClient(c *Client) *LicenseClient {
	return &LicenseClient{client: c}
}

// List returns every canonical license. The API may answer with a bare
// array or with an envelope holding the array under "data".
func (l *LicenseClient) List(ctx context.Context) ([]model.CanonicalLicense, error) {
	var raw json.RawMessage
	if err := l.client.Get(ctx, "/licenses", &raw); err != nil {
		return nil, fmt.Errorf("listing licenses: %w", err)
	}

	items := []byte(raw)
	if trimmed := bytes.TrimSpace(items); len(trimmed) > 0 && trimmed[0] == '{' {
		data, _, _, err := jsonparser.Get(trimmed, "data")
		if err != nil {
			return nil, fmt.Errorf("listing licenses: response has no data array: %w", err)
		}
		items = data
	}

	var licenses []model.CanonicalLicense
	if err := json.Unmarshal(items, &licenses); err != nil {
		return nil, fmt.Errorf("decoding license list: %w", err)
	}
	return licenses, nil
}

// Get returns the license with the given id.
func (l *LicenseClient) Get(ctx context.Context, id string) (*model.CanonicalLicense, error) {
	var lic model.CanonicalLicense
	if err := l.client.Get(ctx, "/licenses/"+url.PathEscape(id), &lic); err != nil {
		return nil, fmt.Errorf("getting license %s: %w", id, err)
	}
	return &lic, nil
}

// Create stores a new license and returns the created record.
func (l *LicenseClient) Create(ctx context.Context, draft model.LicenseDraft) (*model.CanonicalLicense, error) {
	var lic model.CanonicalLicense
	if err := l.client.Post(ctx, "/licenses", draft, &lic); err != nil {
		return nil, fmt.Errorf("creating license %s: %w", draft.Code, err)
	}
	return &lic, nil
}

// Update replaces the license with the given id.
func (l *LicenseClient) Update(ctx context.Context, id string, draft model.LicenseDraft) (*model.CanonicalLicense, error) {
	var lic model.CanonicalLicense
	if err := l.client.Put(ctx, "/licenses/"+url.PathEscape(id), draft, &lic); err != nil {
		return nil, fmt.Errorf("updating license %s: %w", id, err)
	}
	return &lic, nil
}
