package fields

import (
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/buger/jsonparser"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// placeholderLen is how many characters of an unresolved identifier are
// shown in its placeholder.
const placeholderLen = 8

// Key paths tried, in order, for each attribute of a field document.
var (
	idPaths        = [][]string{{"uuid"}, {"id"}}
	namePaths      = [][]string{{"nombre"}, {"name"}}
	parentPaths    = [][]string{{"parentFieldName"}, {"campo"}}
	ownerPaths     = [][]string{{"ownerAccountId"}, {"accountId"}}
	surfacePaths   = [][]string{{"surfaceArea"}, {"superficie"}, {"properties", "superficie"}, {"properties", "area"}}
	lotIDPaths     = [][]string{{"properties", "uuid"}, {"id"}, {"uuid"}}
	lotNamePaths   = [][]string{{"properties", "nombre"}, {"properties", "name"}, {"nombre"}, {"name"}}
	lotOwnerPaths  = [][]string{{"properties", "ownerAccountId"}, {"ownerAccountId"}}
	lotSurfacePath = [][]string{{"properties", "superficie"}, {"properties", "area"}, {"superficie"}, {"surfaceArea"}}
)

// Entry is one resolved identifier of an Index.
type Entry struct {
	ID string
	model.LotRef
}

// Index maps lot (and field) identifiers to display names. It is never
// mutated after Build returns, so readers may share it freely.
type Index struct {
	entries map[string]model.LotRef
}

// Lookup returns the reference stored for id.
func (i *Index) Lookup(id string) (model.LotRef, bool) {
	ref, ok := i.entries[id]
	return ref, ok
}

// Resolve returns the reference for id, or a placeholder built from the
// first characters of id when it is unknown. An empty id resolves to an
// empty reference.
func (i *Index) Resolve(id string) model.LotRef {
	if id == "" {
		return model.LotRef{}
	}
	if ref, ok := i.entries[id]; ok {
		return ref
	}
	p := Placeholder(id)
	return model.LotRef{LotName: p, FieldName: p}
}

// Len returns the number of identifiers in the index.
func (i *Index) Len() int {
	return len(i.entries)
}

// Entries returns a copy of the index sorted by identifier.
func (i *Index) Entries() []Entry {
	out := make([]Entry, 0, len(i.entries))
	for id, ref := range i.entries {
		out = append(out, Entry{ID: id, LotRef: ref})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Placeholder shortens an unresolved identifier for display.
func Placeholder(id string) string {
	if utf8.RuneCountInString(id) <= placeholderLen {
		return id
	}
	runes := []rune(id)
	return string(runes[:placeholderLen]) + "…"
}

// Build scans field documents of both shapes in one pass: containers with
// a lotes array, and standalone documents carrying uuid and a name.
// Later documents overwrite earlier ones for the same identifier.
// Malformed entries are logged and skipped; Build never fails.
func Build(docs []store.Document, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}

	entries := make(map[string]model.LotRef)
	for _, doc := range docs {
		body := []byte(doc.Body)

		lotes, dataType, _, err := jsonparser.Get(body, "lotes")
		if err == nil && dataType == jsonparser.Array {
			indexContainer(entries, doc.ID, body, lotes, logger)
			continue
		}

		id := firstString(body, idPaths)
		name := firstString(body, namePaths)
		if id == "" || name == "" {
			logger.Debug("skipping field document without uuid and name", "doc", doc.ID)
			continue
		}
		fieldName := firstString(body, parentPaths)
		if fieldName == "" {
			fieldName = name
		}
		entries[id] = model.LotRef{
			LotName:        name,
			FieldName:      fieldName,
			OwnerAccountID: firstString(body, ownerPaths),
		}
	}

	return &Index{entries: entries}
}

func indexContainer(entries map[string]model.LotRef, docID string, body, lotes []byte, logger *slog.Logger) {
	fieldName := firstString(body, namePaths)
	owner := firstString(body, ownerPaths)

	position := 0
	_, err := jsonparser.ArrayEach(lotes, func(lot []byte, dataType jsonparser.ValueType, _ int, _ error) {
		defer func() { position++ }()

		if dataType != jsonparser.Object {
			logger.Warn("skipping malformed lot entry", "doc", docID, "position", position)
			return
		}
		id := firstString(lot, lotIDPaths)
		if id == "" {
			logger.Warn("skipping lot entry without identifier", "doc", docID, "position", position)
			return
		}

		lotName := firstString(lot, lotNamePaths)
		if lotName == "" {
			lotName = fieldName
		}
		lotOwner := firstString(lot, lotOwnerPaths)
		if lotOwner == "" {
			lotOwner = owner
		}
		entries[id] = model.LotRef{
			LotName:        lotName,
			FieldName:      fieldName,
			OwnerAccountID: lotOwner,
		}
	})
	if err != nil {
		logger.Warn("reading lotes array", "doc", docID, "error", err)
	}

	// A field is its own lot for tasks recorded against the whole field.
	if id := firstString(body, idPaths); id != "" {
		entries[id] = model.LotRef{
			LotName:        fieldName,
			FieldName:      fieldName,
			OwnerAccountID: owner,
		}
	}
}

// firstString returns the first non-empty string or number found at one
// of paths, trimmed.
func firstString(data []byte, paths [][]string) string {
	for _, path := range paths {
		value, dataType, _, err := jsonparser.Get(data, path...)
		if err != nil {
			continue
		}
		var s string
		switch dataType {
		case jsonparser.String:
			s, err = jsonparser.ParseString(value)
			if err != nil {
				continue
			}
		case jsonparser.Number:
			s = string(value)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// firstFloat returns the first numeric value found at one of paths.
// Numeric strings are accepted.
func firstFloat(data []byte, paths [][]string) *float64 {
	for _, path := range paths {
		value, dataType, _, err := jsonparser.Get(data, path...)
		if err != nil {
			continue
		}
		var f float64
		switch dataType {
		case jsonparser.Number:
			f, err = jsonparser.ParseFloat(value)
		case jsonparser.String:
			f, err = jsonparser.ParseFloat([]byte(strings.TrimSpace(string(value))))
		default:
			continue
		}
		if err == nil {
			return &f
		}
	}
	return nil
}
