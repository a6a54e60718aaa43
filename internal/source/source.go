// Package source reads records from the legacy document store.
//
// A Store exposes two operations: paginated listing with an opaque
// continuation cursor, and counting. Documents are returned as plain Go
// values (maps, slices, strings, numbers, time.Time) regardless of the
// backing driver, so callers never depend on driver types.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Filter is a query document in the store's native syntax.
type Filter map[string]any

// Page is one batch of a paginated listing.
type Page struct {
	Documents []Document
	Cursor    string // continuation cursor for the next call, empty when Done
	Done      bool   // no more pages follow
}

// Store is the read surface of the legacy document store.
type Store interface {
	// List returns up to pageSize documents of collection that match filter,
	// continuing after cursor. An empty cursor starts from the beginning.
	List(ctx context.Context, collection string, filter Filter, cursor string, pageSize int) (Page, error)

	// Count returns the number of documents in collection that match filter.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}

// Document is a source record.
type Document map[string]any

// ID returns the document identifier as a string.
func (d Document) ID() string {
	return stringify(d["_id"])
}

// Lookup resolves a dotted path such as "address.city".
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for part := range strings.SplitSeq(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path as a trimmed string, empty when absent or null.
func (d Document) String(path string) string {
	v, ok := d.Lookup(path)
	if !ok {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

// Has reports whether path exists with a non-null value.
func (d Document) Has(path string) bool {
	v, ok := d.Lookup(path)
	return ok && v != nil
}

// Slice returns the array at path, nil when absent or not an array.
func (d Document) Slice(path string) []any {
	v, ok := d.Lookup(path)
	if !ok {
		return nil
	}
	s, _ := v.([]any)
	return s
}

// Documents returns the array at path, keeping only object elements.
func (d Document) Documents(path string) []Document {
	items := d.Slice(path)
	out := make([]Document, 0, len(items))
	for _, item := range items {
		if m, ok := asMap(item); ok {
			out = append(out, Document(m))
		}
	}
	return out
}

// Time returns the value at path as a time. Accepted encodings are time.Time,
// Unix milliseconds (int64/float64) and RFC 3339 strings.
func (d Document) Time(path string) (time.Time, bool) {
	v, ok := d.Lookup(path)
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int32:
		return time.UnixMilli(int64(t)).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case int:
		return strconv.Itoa(s)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}
