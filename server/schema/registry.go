package schema

import (
	"sync"

	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/paths"
)

// Registry holds the table declarations of one dataset
type Registry struct {
	mu     sync.RWMutex
	groups map[TableGroup][]DatasetTable
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{groups: make(map[TableGroup][]DatasetTable)}
}

// NewRegistryFromTables builds a registry from persisted declarations,
// declaring groups in join order.
func NewRegistryFromTables(tables Tables) (*Registry, error) {
	r := NewRegistry()
	for group := range tables {
		if _, err := ParseGroup(string(group)); err != nil {
			return nil, err
		}
	}
	for _, group := range Groups {
		for _, t := range tables[group] {
			if _, err := r.Declare(group, t.Name, t.Fields, t.Source); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Declare adds a table to a group. Table names are unique across groups
// because each table owns one directory under db/.
func (r *Registry) Declare(group TableGroup, name string, fields Fields, source string) (DatasetTable, error) {
	if _, err := ParseGroup(string(group)); err != nil {
		return DatasetTable{}, err
	}
	if err := paths.ValidateName("table", name); err != nil {
		return DatasetTable{}, errors.New(InvalidTable, "invalid table name", err).AddContext("table", name)
	}
	if len(fields) == 0 {
		return DatasetTable{}, errors.New(InvalidTable, "table declares no fields", nil).AddContext("table", name)
	}

	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return DatasetTable{}, errors.New(InvalidTable, "empty field name", nil).AddContext("table", name)
		}
		if _, dup := seen[f.Name]; dup {
			return DatasetTable{}, errors.New(InvalidTable, "duplicate field", nil).AddContext("table", name).AddContext("field", f.Name)
		}
		if !f.Type.IsValid() {
			return DatasetTable{}, errors.New(InvalidFieldType, "unknown field type", nil).AddContext("table", name).AddContext("field", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if _, ok := seen[ItemKey(group)]; !ok {
		return DatasetTable{}, errors.New(InvalidTable, "table is missing its item key column", nil).
			AddContext("table", name).
			AddContext("column", ItemKey(group))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, _, ok := r.lookupLocked(name); ok {
		return DatasetTable{}, errors.New(DuplicateTable, "table already declared", nil).AddContext("table", name)
	}

	table := DatasetTable{
		Name:   name,
		Fields: append(Fields(nil), fields...),
		Source: source,
	}
	r.groups[group] = append(r.groups[group], table)
	return table, nil
}

// Resolve returns the declaration of a table in a group
func (r *Registry) Resolve(group TableGroup, name string) (DatasetTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.groups[group] {
		if t.Name == name {
			return t, nil
		}
	}
	return DatasetTable{}, errors.New(SchemaNotFound, "table not declared", nil).
		AddContext("group", string(group)).
		AddContext("table", name)
}

// Lookup finds a table by name in any group
func (r *Registry) Lookup(name string) (TableGroup, DatasetTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(name)
}

func (r *Registry) lookupLocked(name string) (TableGroup, DatasetTable, bool) {
	for _, group := range Groups {
		for _, t := range r.groups[group] {
			if t.Name == name {
				return group, t, true
			}
		}
	}
	return "", DatasetTable{}, false
}

// Tables returns the tables of a group in declaration order
func (r *Registry) Tables(group TableGroup) []DatasetTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]DatasetTable(nil), r.groups[group]...)
}

// Main returns the single main table
func (r *Registry) Main() (DatasetTable, error) {
	tables := r.Tables(GroupMain)
	if len(tables) == 0 {
		return DatasetTable{}, errors.New(SchemaNotFound, "dataset declares no main table", nil)
	}
	return tables[0], nil
}

// Export returns a copy of every declaration, for persistence
func (r *Registry) Export() Tables {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(Tables, len(r.groups))
	for group, tables := range r.groups {
		out[group] = append([]DatasetTable(nil), tables...)
	}
	return out
}
