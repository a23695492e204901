package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// ReplicaClient speaks the subset of the CouchDB replication protocol
// needed to mirror local collections: database creation, _bulk_docs with
// new_edits=false, and _changes with included documents.
type ReplicaClient struct {
	client *Client
}

// NewReplicaClient wraps c for a CouchDB-compatible endpoint.
func NewReplicaClient(c *Client) *ReplicaClient {
	return &ReplicaClient{client: c}
}

// ChangesPage is one batch read from a remote _changes feed.
type ChangesPage struct {
	Docs    []store.Document
	LastSeq string
}

// EnsureDatabase creates the remote database if it does not exist yet.
func (r *ReplicaClient) EnsureDatabase(ctx context.Context, db string) error {
	err := r.client.Put(ctx, "/"+url.PathEscape(db), nil, nil)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusPreconditionFailed {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating remote database %s: %w", db, err)
	}
	return nil
}

// PushDocs writes documents with their local revisions preserved.
func (r *ReplicaClient) PushDocs(ctx context.Context, db string, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}

	encoded := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := EncodeReplicaDoc(doc)
		if err != nil {
			return err
		}
		encoded = append(encoded, raw)
	}

	req := struct {
		Docs     []json.RawMessage `json:"docs"`
		NewEdits bool              `json:"new_edits"`
	}{Docs: encoded, NewEdits: false}

	if err := r.client.Post(ctx, "/"+url.PathEscape(db)+"/_bulk_docs", req, nil); err != nil {
		return fmt.Errorf("pushing %d docs to %s: %w", len(docs), db, err)
	}
	return nil
}

// Changes reads up to limit changes after since, with documents included.
func (r *ReplicaClient) Changes(ctx context.Context, db, since string, limit int) (ChangesPage, error) {
	q := url.Values{}
	q.Set("include_docs", "true")
	q.Set("style", "main_only")
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := r.client.Get(ctx, "/"+url.PathEscape(db)+"/_changes?"+q.Encode(), &raw); err != nil {
		return ChangesPage{}, fmt.Errorf("reading changes of %s since %q: %w", db, since, err)
	}
	return parseChanges(raw)
}

func parseChanges(raw []byte) (ChangesPage, error) {
	page := ChangesPage{LastSeq: seqValue(raw, "last_seq")}

	var parseErr error
	_, err := jsonparser.ArrayEach(raw, func(entry []byte, _ jsonparser.ValueType, _ int, err error) {
		if err != nil || parseErr != nil {
			return
		}
		docRaw, dataType, _, err := jsonparser.Get(entry, "doc")
		if err != nil || dataType != jsonparser.Object {
			// Changes without a body (e.g. purged docs) cannot be applied.
			return
		}
		doc, err := DecodeReplicaDoc(docRaw)
		if err != nil {
			parseErr = err
			return
		}
		page.Docs = append(page.Docs, doc)
	}, "results")
	if err != nil {
		return ChangesPage{}, fmt.Errorf("parsing changes response: %w", err)
	}
	if parseErr != nil {
		return ChangesPage{}, parseErr
	}
	return page, nil
}

// seqValue reads a sequence that may be a JSON number (CouchDB 1.x) or an
// opaque string (CouchDB 2+).
func seqValue(raw []byte, key string) string {
	value, dataType, _, err := jsonparser.Get(raw, key)
	if err != nil {
		return ""
	}
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return string(value)
		}
		return s
	case jsonparser.Number:
		return string(value)
	}
	return ""
}

// EncodeReplicaDoc renders a local document in replica form: its body with
// the _id, _rev and _deleted metadata merged in.
func EncodeReplicaDoc(doc store.Document) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(doc.Body) > 0 && !doc.Deleted {
		if err := json.Unmarshal(doc.Body, &fields); err != nil {
			return nil, fmt.Errorf("encoding replica doc %s: %w", doc.ID, err)
		}
	}

	meta, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding replica doc %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(meta, &fields); err != nil {
		return nil, fmt.Errorf("encoding replica doc %s: %w", doc.ID, err)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding replica doc %s: %w", doc.ID, err)
	}
	return out, nil
}

// DecodeReplicaDoc splits a replica document into store metadata and body.
// Underscore-prefixed keys never reach the body.
func DecodeReplicaDoc(raw []byte) (store.Document, error) {
	var doc store.Document
	body := map[string]json.RawMessage{}

	err := jsonparser.ObjectEach(raw, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		k := string(key)
		switch {
		case k == "_id":
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return err
			}
			doc.ID = s
		case k == "_rev":
			s, err := jsonparser.ParseString(value)
			if err != nil {
				return err
			}
			doc.Rev = s
		case k == "_deleted":
			b, err := jsonparser.ParseBoolean(value)
			if err != nil {
				return err
			}
			doc.Deleted = b
		case strings.HasPrefix(k, "_"):
		default:
			if dataType == jsonparser.String {
				// jsonparser hands back string contents without quotes.
				value = []byte(`"` + string(value) + `"`)
			}
			body[k] = json.RawMessage(value)
		}
		return nil
	})
	if err != nil {
		return store.Document{}, fmt.Errorf("decoding replica doc: %w", err)
	}
	if doc.ID == "" || doc.Rev == "" {
		return store.Document{}, fmt.Errorf("decoding replica doc: missing _id or _rev")
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return store.Document{}, fmt.Errorf("decoding replica doc %s: %w", doc.ID, err)
	}
	doc.Body = encoded
	return doc, nil
}
