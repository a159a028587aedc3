package storage

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/types"
)

// buildRecord converts rows into one record of the table's physical schema.
// Columns the table does not declare are ignored; missing ones become nulls.
func buildRecord(mem memory.Allocator, table schema.DatasetTable, rows []Row) (arrow.Record, error) {
	rb := array.NewRecordBuilder(mem, table.ArrowSchema())
	defer rb.Release()

	for colIdx, field := range table.Fields {
		builder := rb.Field(colIdx)
		for rowIdx, row := range rows {
			if err := appendValue(builder, row[field.Name], field.Type); err != nil {
				return nil, errors.New(ErrTypeMismatch, "cannot encode column value", err).
					AddContext("table", table.Name).
					AddContext("field", field.Name).
					AddContext("row_index", strconv.Itoa(rowIdx))
			}
		}
	}

	return rb.NewRecord(), nil
}

// appendValue appends a value to the builder of a declared field type
func appendValue(builder array.Builder, value any, ft schema.FieldType) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch ft {
	case schema.TypeString:
		s, ok := value.(string)
		if !ok {
			return mismatch("string", value)
		}
		builder.(*array.StringBuilder).Append(s)

	case schema.TypeNumber:
		f, ok := toFloat64(value)
		if !ok {
			return mismatch("number", value)
		}
		builder.(*array.Float64Builder).Append(f)

	case schema.TypeInt:
		n, ok := toInt64(value)
		if !ok {
			return mismatch("int", value)
		}
		builder.(*array.Int64Builder).Append(n)

	case schema.TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return mismatch("boolean", value)
		}
		builder.(*array.BooleanBuilder).Append(b)

	case schema.TypeStringList:
		list, ok := toStringSlice(value)
		if !ok {
			return mismatch("string-list", value)
		}
		lb := builder.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		for _, s := range list {
			vb.Append(s)
		}

	case schema.TypeImage:
		img, ok := toImage(value)
		if !ok {
			return mismatch("image", value)
		}
		sb := builder.(*array.StructBuilder)
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(img.URI)
		pb := sb.FieldBuilder(1).(*array.BinaryBuilder)
		if img.Preview == nil {
			pb.AppendNull()
		} else {
			pb.Append(img.Preview)
		}

	case schema.TypeBBox:
		box, ok := toBBox(value)
		if !ok {
			return mismatch("bbox", value)
		}
		sb := builder.(*array.StructBuilder)
		sb.Append(true)
		cb := sb.FieldBuilder(0).(*array.ListBuilder)
		cb.Append(true)
		cb.ValueBuilder().(*array.Float64Builder).AppendValues(box.Coords, nil)
		sb.FieldBuilder(1).(*array.StringBuilder).Append(box.Format)
		sb.FieldBuilder(2).(*array.BooleanBuilder).Append(box.IsNormalized)
		sb.FieldBuilder(3).(*array.Float64Builder).Append(box.Confidence)

	case schema.TypeEmbedding:
		vec, ok := toFloat32Slice(value)
		if !ok {
			return mismatch("embedding", value)
		}
		lb := builder.(*array.ListBuilder)
		lb.Append(true)
		lb.ValueBuilder().(*array.Float32Builder).AppendValues(vec, nil)

	default:
		return errors.New(ErrTypeMismatch, "unsupported field type", nil).AddContext("type", string(ft))
	}

	return nil
}

func mismatch(expected string, value any) error {
	return errors.New(ErrTypeMismatch, "expected "+expected, nil).AddContext("actual_type", fmt.Sprintf("%T", value))
}

// recordRows decodes every row of a record. Columns with a physical type
// that has no Go mapping are left out of the rows.
func recordRows(rec arrow.Record) []Row {
	n := int(rec.NumRows())
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = make(Row, rec.NumCols())
	}

	for colIdx, field := range rec.Schema().Fields() {
		col := rec.Column(colIdx)
		for i := 0; i < n; i++ {
			if v, ok := valueAt(col, i); ok {
				rows[i][field.Name] = v
			}
		}
	}
	return rows
}

// valueAt decodes one cell. Nulls decode to nil.
func valueAt(arr arrow.Array, i int) (any, bool) {
	if arr.IsNull(i) {
		return nil, true
	}

	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	case *array.Boolean:
		return a.Value(i), true
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Uint8:
		return int64(a.Value(i)), true
	case *array.Uint16:
		return int64(a.Value(i)), true
	case *array.Uint32:
		return int64(a.Value(i)), true
	case *array.Uint64:
		// values past the int64 range stay unsigned rather than wrap
		v := a.Value(i)
		if v > math.MaxInt64 {
			return v, true
		}
		return int64(v), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	case *array.Binary:
		return bytes.Clone(a.Value(i)), true
	case *array.List:
		return listValue(a, i)
	case *array.Struct:
		return structValue(a, i)
	default:
		return nil, false
	}
}

func listValue(a *array.List, i int) (any, bool) {
	start, end := a.ValueOffsets(i)
	switch values := a.ListValues().(type) {
	case *array.String:
		out := make([]string, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, values.Value(int(j)))
		}
		return out, true
	case *array.Float32:
		out := make([]float32, end-start)
		copy(out, values.Float32Values()[start:end])
		return out, true
	case *array.Float64:
		out := make([]float64, end-start)
		copy(out, values.Float64Values()[start:end])
		return out, true
	default:
		return nil, false
	}
}

// structValue decodes image and bbox structs by shape; other structs become
// maps of their decodable children.
func structValue(a *array.Struct, i int) (any, bool) {
	st := a.DataType().(*arrow.StructType)
	children := make(map[string]arrow.Array, st.NumFields())
	for k, f := range st.Fields() {
		children[f.Name] = a.Field(k)
	}
	get := func(name string) any {
		child, ok := children[name]
		if !ok {
			return nil
		}
		v, _ := valueAt(child, i)
		return v
	}

	if _, ok := children["uri"]; ok {
		img := types.Image{}
		img.URI, _ = get("uri").(string)
		img.Preview, _ = get("preview").([]byte)
		return img, true
	}

	if _, ok := children["coords"]; ok {
		box := types.BBox{}
		box.Coords, _ = get("coords").([]float64)
		box.Format, _ = get("format").(string)
		box.IsNormalized, _ = get("is_normalized").(bool)
		box.Confidence, _ = get("confidence").(float64)
		return box, true
	}

	out := make(map[string]any, len(children))
	for name, child := range children {
		if v, ok := valueAt(child, i); ok {
			out[name] = v
		}
	}
	return out, true
}

// Type conversion helpers

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	default:
		return 0, false
	}
}

// floatToInt64 accepts only whole numbers inside the int64 range
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toStringSlice(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat32Slice(value any) ([]float32, bool) {
	switch v := value.(type) {
	case []float32:
		return v, true
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

func toImage(value any) (types.Image, bool) {
	switch v := value.(type) {
	case types.Image:
		return v, true
	case *types.Image:
		if v == nil {
			return types.Image{}, false
		}
		return *v, true
	default:
		return types.Image{}, false
	}
}

func toBBox(value any) (types.BBox, bool) {
	switch v := value.(type) {
	case types.BBox:
		return v, true
	case *types.BBox:
		if v == nil {
			return types.BBox{}, false
		}
		return *v, true
	default:
		return types.BBox{}, false
	}
}
