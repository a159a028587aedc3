package schema

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/gear6io/annolake/pkg/errors"
)

// FieldType is the semantic type of a table column
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeNumber     FieldType = "number"
	TypeInt        FieldType = "int"
	TypeBoolean    FieldType = "boolean"
	TypeStringList FieldType = "string-list"
	TypeImage      FieldType = "image"
	TypeBBox       FieldType = "bbox"
	TypeEmbedding  FieldType = "embedding"
)

// Physical layouts of the composite types
var (
	imageType = arrow.StructOf(
		arrow.Field{Name: "uri", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "preview", Type: arrow.BinaryTypes.Binary, Nullable: true},
	)
	bboxType = arrow.StructOf(
		arrow.Field{Name: "coords", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true},
		arrow.Field{Name: "format", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "is_normalized", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		arrow.Field{Name: "confidence", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	)
)

// ParseFieldType parses a declared type. The short spellings used by older
// dataset files (str, [str], float, bool) are accepted.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str":
		return TypeString, nil
	case "number", "float":
		return TypeNumber, nil
	case "int":
		return TypeInt, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "string-list", "[str]":
		return TypeStringList, nil
	case "image":
		return TypeImage, nil
	case "bbox":
		return TypeBBox, nil
	case "embedding":
		return TypeEmbedding, nil
	default:
		return "", errors.New(InvalidFieldType, "unknown field type", nil).AddContext("type", s)
	}
}

// ArrowType returns the physical column type
func (t FieldType) ArrowType() arrow.DataType {
	switch t {
	case TypeString:
		return arrow.BinaryTypes.String
	case TypeNumber:
		return arrow.PrimitiveTypes.Float64
	case TypeInt:
		return arrow.PrimitiveTypes.Int64
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeStringList:
		return arrow.ListOf(arrow.BinaryTypes.String)
	case TypeImage:
		return imageType
	case TypeBBox:
		return bboxType
	case TypeEmbedding:
		return arrow.ListOf(arrow.PrimitiveTypes.Float32)
	default:
		return nil
	}
}

// IsValid reports whether t is one of the declared types
func (t FieldType) IsValid() bool {
	return t.ArrowType() != nil
}

// FeatureKind is the kind under which a scalar column is surfaced as an item feature
type FeatureKind string

const (
	KindNumber  FeatureKind = "number"
	KindText    FeatureKind = "text"
	KindBoolean FeatureKind = "boolean"
	KindUnknown FeatureKind = ""
)

// Classify maps a physical column type to a feature kind. Anything that is
// not a plain numeric, textual or boolean column is KindUnknown, which callers
// skip instead of failing, so unknown columns never break reads.
func Classify(dt arrow.DataType) FeatureKind {
	if dt == nil {
		return KindUnknown
	}

	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64,
		arrow.DECIMAL128, arrow.DECIMAL256:
		return KindNumber
	case arrow.STRING, arrow.LARGE_STRING:
		return KindText
	case arrow.BOOL:
		return KindBoolean
	default:
		return KindUnknown
	}
}

// FeatureKind classifies a declared field type
func (t FieldType) FeatureKind() FeatureKind {
	return Classify(t.ArrowType())
}

// FieldTypeOf maps a physical column type back to the declared type that
// produces it.
func FieldTypeOf(dt arrow.DataType) (FieldType, bool) {
	if dt == nil {
		return "", false
	}
	for _, t := range []FieldType{TypeString, TypeNumber, TypeInt, TypeBoolean, TypeStringList, TypeImage, TypeBBox, TypeEmbedding} {
		if arrow.TypeEqual(t.ArrowType(), dt) {
			return t, true
		}
	}
	return "", false
}
