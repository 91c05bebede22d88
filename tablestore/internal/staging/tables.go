package staging

import (
	"context"
	"maps"
	"slices"
)

// Table is the committed content of one table, rows in insertion order.
type Table struct {
	Dimension int
	IDs       []string
	Encoded   []string
	pos       map[string]int
}

// NewTable returns a table with the given rows. ids must be unique.
func NewTable(dimension int, ids, encoded []string) *Table {
	t := &Table{
		Dimension: dimension,
		IDs:       slices.Clone(ids),
		Encoded:   slices.Clone(encoded),
		pos:       make(map[string]int, len(ids)),
	}
	for i, id := range t.IDs {
		t.pos[id] = i
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.IDs) }

// Has reports whether the table holds id.
func (t *Table) Has(id string) bool {
	_, ok := t.pos[id]
	return ok
}

func (t *Table) put(id, encoded string) {
	if i, ok := t.pos[id]; ok {
		t.Encoded[i] = encoded
		return
	}
	t.pos[id] = len(t.IDs)
	t.IDs = append(t.IDs, id)
	t.Encoded = append(t.Encoded, encoded)
}

func (t *Table) remove(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := t.pos[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return
	}

	w := 0
	for i, id := range t.IDs {
		if _, ok := drop[id]; ok {
			delete(t.pos, id)
			continue
		}
		t.IDs[w], t.Encoded[w] = id, t.Encoded[i]
		t.pos[id] = w
		w++
	}
	clear(t.IDs[w:])
	clear(t.Encoded[w:])
	t.IDs, t.Encoded = t.IDs[:w], t.Encoded[:w]
}

// Tables is a committed in-memory table set. It implements Remote.
type Tables struct {
	m map[string]*Table
}

var _ Remote = (*Tables)(nil)

// NewTables returns an empty table set.
func NewTables() *Tables {
	return &Tables{m: make(map[string]*Table)}
}

// Set installs t under name, replacing any previous table.
func (s *Tables) Set(name string, t *Table) {
	s.m[name] = t
}

// Get returns the named table.
func (s *Tables) Get(name string) (*Table, bool) {
	t, ok := s.m[name]
	return t, ok
}

// Names returns every table name, sorted.
func (s *Tables) Names() []string {
	return slices.Sorted(maps.Keys(s.m))
}

// TableDimension implements Remote.
func (s *Tables) TableDimension(_ context.Context, name string) (int, bool, error) {
	t, ok := s.m[name]
	if !ok {
		return 0, false, nil
	}
	return t.Dimension, true, nil
}

// RowExists implements Remote.
func (s *Tables) RowExists(_ context.Context, table, id string) (bool, error) {
	t, ok := s.m[table]
	return ok && t.Has(id), nil
}

// Apply applies committed changes and returns the names of tables whose
// content changed.
func (s *Tables) Apply(changes []TableChange) []string {
	touched := make([]string, 0, len(changes))
	for _, ch := range changes {
		if ch.Drop {
			delete(s.m, ch.Name)
		}
		if ch.Create {
			s.m[ch.Name] = NewTable(ch.Dimension, nil, nil)
		}

		t, ok := s.m[ch.Name]
		if !ok {
			touched = append(touched, ch.Name)
			continue
		}
		for _, row := range ch.Puts {
			t.put(row.ID, row.Encoded)
		}
		t.remove(ch.Deletes)
		touched = append(touched, ch.Name)
	}
	return touched
}

// Clone returns a deep copy.
func (s *Tables) Clone() *Tables {
	out := NewTables()
	for name, t := range s.m {
		out.m[name] = NewTable(t.Dimension, t.IDs, t.Encoded)
	}
	return out
}
