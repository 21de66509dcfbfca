package docstore

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

var _ Store = (*Memory)(nil)

type memoryDoc struct {
	data    []byte
	version int64
}

// Memory is an in-process Store.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryDoc
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]memoryDoc)}
}

func (m *Memory) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{ID: id, Data: bytes.Clone(doc.data), Version: doc.version}, nil
}

func (m *Memory) Put(_ context.Context, collection, id string, data []byte) (int64, error) {
	if !jx.Valid(data) {
		return 0, errors.New("document is not valid JSON")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	v := c[id].version + 1
	c[id] = memoryDoc{data: bytes.Clone(data), version: v}
	return v, nil
}

func (m *Memory) PutIfVersion(_ context.Context, collection, id string, data []byte, base int64) (int64, error) {
	if !jx.Valid(data) {
		return 0, errors.New("document is not valid JSON")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	current, exists := c[id]
	if (base == 0 && exists) || (base != 0 && (!exists || current.version != base)) {
		return 0, ErrVersionConflict
	}
	v := current.version + 1
	c[id] = memoryDoc{data: bytes.Clone(data), version: v}
	return v, nil
}

func (m *Memory) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]Document, 0, len(m.collections[collection]))
	for id, doc := range m.collections[collection] {
		ok, err := matches(doc.data, q.Filters)
		if err != nil {
			m.mu.RUnlock()
			return nil, errors.Wrapf(err, "match %s/%s", collection, id)
		}
		if ok {
			out = append(out, Document{ID: id, Data: bytes.Clone(doc.data), Version: doc.version})
		}
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		keys := make(map[string]fieldValue, len(out))
		for _, doc := range out {
			v, _, err := lookup(doc.Data, q.OrderBy)
			if err != nil {
				return nil, err
			}
			keys[doc.ID] = v
		}
		slices.SortFunc(out, func(a, b Document) int {
			c := compareValues(keys[a.ID], keys[b.ID])
			if q.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	} else {
		slices.SortFunc(out, func(a, b Document) int { return cmp.Compare(a.ID, b.ID) })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Increment(_ context.Context, collection, id, field string, delta int64) (int64, error) {
	if err := ValidateField(field); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	doc, ok := c[id]
	if !ok {
		return 0, ErrNotFound
	}
	data, v, err := incrementField(doc.data, field, delta)
	if err != nil {
		return 0, err
	}
	c[id] = memoryDoc{data: data, version: doc.version + 1}
	return v, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) collection(name string) map[string]memoryDoc {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]memoryDoc)
		m.collections[name] = c
	}
	return c
}

// fieldValue is a top-level JSON value reduced to its text form, plus the
// parsed number for numeric values.
type fieldValue struct {
	present bool
	number  bool
	text    string
	num     float64
}

func lookup(data []byte, field string) (fieldValue, bool, error) {
	var v fieldValue
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if v.present || string(key) != field {
			return d.Skip()
		}
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			v = fieldValue{present: true, text: s}
		case jx.Number:
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			n, err := strconv.ParseFloat(raw.String(), 64)
			if err != nil {
				return err
			}
			v = fieldValue{present: true, number: true, text: raw.String(), num: n}
		case jx.Bool:
			b, err := d.Bool()
			if err != nil {
				return err
			}
			v = fieldValue{present: true, text: strconv.FormatBool(b)}
		case jx.Null:
			return d.Null()
		default:
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			v = fieldValue{present: true, text: raw.String()}
		}
		return nil
	})
	if err != nil {
		return fieldValue{}, false, errors.Wrap(err, "decode document")
	}
	return v, v.present, nil
}

func matches(data []byte, filters []Filter) (bool, error) {
	for _, f := range filters {
		v, ok, err := lookup(data, f.Field)
		if err != nil {
			return false, err
		}
		if !ok || v.text != f.Value {
			return false, nil
		}
	}
	return true, nil
}

// compareValues orders numbers numerically and everything else by text.
// Missing values sort last.
func compareValues(a, b fieldValue) int {
	switch {
	case !a.present && !b.present:
		return 0
	case !a.present:
		return 1
	case !b.present:
		return -1
	case a.number && b.number:
		return cmp.Compare(a.num, b.num)
	default:
		return cmp.Compare(a.text, b.text)
	}
}

// incrementField rewrites data with field increased by delta. A missing
// field counts as zero.
func incrementField(data []byte, field string, delta int64) ([]byte, int64, error) {
	var (
		e      jx.Encoder
		found  bool
		result int64
	)
	e.ObjStart()
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		e.FieldStart(string(key))
		if string(key) != field {
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			e.Raw(raw)
			return nil
		}
		if d.Next() != jx.Number {
			return errors.Errorf("field %q is not a number", field)
		}
		cur, err := d.Int64()
		if err != nil {
			return err
		}
		found = true
		result = cur + delta
		if result < 0 {
			return ErrConditionFailed
		}
		e.Int64(result)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return nil, 0, ErrConditionFailed
		}
		return nil, 0, errors.Wrap(err, "increment")
	}
	if !found {
		if delta < 0 {
			return nil, 0, ErrConditionFailed
		}
		e.FieldStart(field)
		e.Int64(delta)
		result = delta
	}
	e.ObjEnd()
	return e.Bytes(), result, nil
}
