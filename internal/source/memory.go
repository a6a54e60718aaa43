package source

import (
	"context"
	"maps"
	"reflect"
	"strconv"
	"sync"

	"github.com/hearthline/migrator/internal/errors"
)

// MemoryStore is an in-process Store keyed by collection. Filters support
// top-level equality only. The cursor is the offset of the next document.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	failOn      map[string]error
	listCalls   int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Document),
		failOn:      make(map[string]error),
	}
}

// Insert appends documents to a collection.
func (m *MemoryStore) Insert(collection string, docs ...Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.collections[collection] = append(m.collections[collection], maps.Clone(d))
	}
}

// FailOn makes every List and Count call on collection return err.
func (m *MemoryStore) FailOn(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[collection] = err
}

// ListCalls returns how many times List was called.
func (m *MemoryStore) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, collection string, filter Filter, cursor string, pageSize int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	m.mu.Lock()
	m.listCalls++
	failErr := m.failOn[collection]
	m.mu.Unlock()

	if failErr != nil {
		return Page{}, failErr
	}
	if pageSize <= 0 {
		return Page{}, errors.Newf("page size must be positive, got %d", pageSize).
			Component("source").
			Category(errors.CategoryValidation).
			Build()
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Page{}, invalidCursor(errors.NewStd("not an offset"))
		}
		offset = n
	}

	matched := m.matching(collection, filter)
	if offset >= len(matched) {
		return Page{Done: true}, nil
	}

	end := min(offset+pageSize, len(matched))
	page := Page{Documents: matched[offset:end], Done: end >= len(matched)}
	if !page.Done {
		page.Cursor = strconv.Itoa(end)
	}
	return page, nil
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	failErr := m.failOn[collection]
	m.mu.RUnlock()
	if failErr != nil {
		return 0, failErr
	}
	return int64(len(m.matching(collection, filter))), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (m *MemoryStore) Close(context.Context) error {
	return nil
}

func (m *MemoryStore) matching(collection string, filter Filter) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, d := range m.collections[collection] {
		if matchesFilter(d, filter) {
			out = append(out, maps.Clone(d))
		}
	}
	return out
}

func matchesFilter(d Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := d.Lookup(k)
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
