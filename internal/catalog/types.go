package catalog

import (
	"strconv"
	"time"
)

// FieldType is the catalog's own field kind, independent of the SQL dialect.
type FieldType string

const (
	TypeDouble FieldType = "DOUBLE"
	TypeText   FieldType = "TEXT"
	TypeLong   FieldType = "LONG"
	TypeShort  FieldType = "SHORT"
	TypeDate   FieldType = "DATE"
	TypeBlob   FieldType = "BLOB"
	TypeGUID   FieldType = "GUID"
	TypeFloat  FieldType = "FLOAT"
)

var esriTypes = map[string]FieldType{
	"esriFieldTypeDouble":       TypeDouble,
	"esriFieldTypeString":       TypeText,
	"esriFieldTypeInteger":      TypeLong,
	"esriFieldTypeSmallInteger": TypeShort,
	"esriFieldTypeDate":         TypeDate,
	"esriFieldTypeBlob":         TypeBlob,
	"esriFieldTypeGUID":         TypeGUID,
	"esriFieldTypeSingle":       TypeFloat,
}

// MapEsriType maps a service field type; unknown kinds become LONG.
func MapEsriType(esri string) FieldType {
	if t, ok := esriTypes[esri]; ok {
		return t
	}
	return TypeLong
}

// sqlType renders t for the dialect. length only applies to TEXT.
func sqlType(dialect string, t FieldType, length int) string {
	pg := dialect == "postgres"
	switch t {
	case TypeDouble:
		if pg {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	case TypeText:
		if length > 0 {
			return "VARCHAR(" + strconv.Itoa(length) + ")"
		}
		return "TEXT"
	case TypeShort:
		return "SMALLINT"
	case TypeDate:
		if pg {
			return "TIMESTAMPTZ"
		}
		return "DATETIME"
	case TypeBlob:
		if pg {
			return "BYTEA"
		}
		return "BLOB"
	case TypeGUID:
		return "VARCHAR(38)"
	case TypeFloat:
		return "REAL"
	default:
		return "BIGINT"
	}
}

// EpochMillisToTime converts the service's date encoding to UTC.
func EpochMillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func TimeToEpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
