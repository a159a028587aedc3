package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/gear6io/annolake/pkg/errors"
)

// TableGroup is the structural role of a table
type TableGroup string

const (
	GroupMain       TableGroup = "main"
	GroupMedia      TableGroup = "media"
	GroupObjects    TableGroup = "objects"
	GroupEmbeddings TableGroup = "embeddings"
)

// Groups lists every table group in join order
var Groups = []TableGroup{GroupMain, GroupMedia, GroupObjects, GroupEmbeddings}

// ParseGroup validates a group name
func ParseGroup(s string) (TableGroup, error) {
	for _, g := range Groups {
		if string(g) == s {
			return g, nil
		}
	}
	return "", errors.New(UnknownGroup, "unknown table group", nil).AddContext("group", s)
}

// ItemKey returns the column that holds the item identifier of a row in the
// given group. Object rows have their own id and point to the item through
// item_id; every other group is keyed by the item id directly.
func ItemKey(group TableGroup) string {
	if group == GroupObjects {
		return "item_id"
	}
	return "id"
}

// Field is one named, typed column
type Field struct {
	Name string
	Type FieldType
}

// Fields is an ordered column list. It is persisted as a JSON object whose key
// order is the column order, e.g. {"id": "string", "views": "string-list"}.
type Fields []Field

// MarshalJSON writes the ordered object form
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(string(f.Type))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the ordered object form, keeping key order
func (fs *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	var out Fields
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)

		var raw string
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fields: %s: %w", name, err)
		}
		ft, err := ParseFieldType(raw)
		if err != nil {
			return err
		}
		out = append(out, Field{Name: name, Type: ft})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*fs = out
	return nil
}

// DatasetTable declares the layout of one partitioned table
type DatasetTable struct {
	Name   string `json:"name"`
	Fields Fields `json:"fields"`
	Source string `json:"source,omitempty"`
}

// Field returns a column by name
func (t DatasetTable) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the table declares a column
func (t DatasetTable) HasField(name string) bool {
	_, ok := t.Field(name)
	return ok
}

// ArrowSchema returns the physical schema. Every column is nullable so rows
// may omit values.
func (t DatasetTable) ArrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(t.Fields))
	for _, f := range t.Fields {
		fields = append(fields, arrow.Field{
			Name:     f.Name,
			Type:     f.Type.ArrowType(),
			Nullable: true,
			Metadata: arrow.MetadataFrom(map[string]string{"annolake_type": string(f.Type)}),
		})
	}
	return arrow.NewSchema(fields, nil)
}

// Tables groups table declarations by role
type Tables map[TableGroup][]DatasetTable
