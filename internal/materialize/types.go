package materialize

import (
	"strings"

	"github.com/sells-group/adform-extractor/internal/model"
)

// NativeType is a column type reported by the engine.
type NativeType int

const (
	NativeOther NativeType = iota
	NativeTinyInt
	NativeSmallInt
	NativeInteger
	NativeBigInt
	NativeHugeInt
	NativeUTinyInt
	NativeUSmallInt
	NativeUInteger
	NativeUBigInt
	NativeUHugeInt
	NativeDecimal
	NativeFloat
	NativeDouble
	NativeBoolean
	NativeTimestamp
	NativeTimestampTZ
	NativeTimestampSec
	NativeTimestampMilli
	NativeTimestampNano
	NativeDate
	NativeTime
	NativeVarchar
	NativeUUID
	NativeBlob
	NativeInterval
	NativeJSON
)

// canonicalTypes maps every NativeType onto a canonical type.
var canonicalTypes = map[NativeType]model.CanonicalType{
	NativeOther:          model.TypeString,
	NativeTinyInt:        model.TypeInteger,
	NativeSmallInt:       model.TypeInteger,
	NativeInteger:        model.TypeInteger,
	NativeBigInt:         model.TypeInteger,
	NativeHugeInt:        model.TypeInteger,
	NativeUTinyInt:       model.TypeInteger,
	NativeUSmallInt:      model.TypeInteger,
	NativeUInteger:       model.TypeInteger,
	NativeUBigInt:        model.TypeInteger,
	NativeUHugeInt:       model.TypeInteger,
	NativeDecimal:        model.TypeNumeric,
	NativeFloat:          model.TypeFloat,
	NativeDouble:         model.TypeFloat,
	NativeBoolean:        model.TypeBoolean,
	NativeTimestamp:      model.TypeTimestamp,
	NativeTimestampTZ:    model.TypeTimestamp,
	NativeTimestampSec:   model.TypeTimestamp,
	NativeTimestampMilli: model.TypeTimestamp,
	NativeTimestampNano:  model.TypeTimestamp,
	NativeDate:           model.TypeDate,
	NativeTime:           model.TypeString,
	NativeVarchar:        model.TypeString,
	NativeUUID:           model.TypeString,
	NativeBlob:           model.TypeString,
	NativeInterval:       model.TypeString,
	NativeJSON:           model.TypeString,
}

var nativeNames = map[string]NativeType{
	"TINYINT":                  NativeTinyInt,
	"INT1":                     NativeTinyInt,
	"SMALLINT":                 NativeSmallInt,
	"INT2":                     NativeSmallInt,
	"SHORT":                    NativeSmallInt,
	"INTEGER":                  NativeInteger,
	"INT":                      NativeInteger,
	"INT4":                     NativeInteger,
	"SIGNED":                   NativeInteger,
	"BIGINT":                   NativeBigInt,
	"INT8":                     NativeBigInt,
	"LONG":                     NativeBigInt,
	"HUGEINT":                  NativeHugeInt,
	"INT128":                   NativeHugeInt,
	"UTINYINT":                 NativeUTinyInt,
	"USMALLINT":                NativeUSmallInt,
	"UINTEGER":                 NativeUInteger,
	"UBIGINT":                  NativeUBigInt,
	"UHUGEINT":                 NativeUHugeInt,
	"DECIMAL":                  NativeDecimal,
	"NUMERIC":                  NativeDecimal,
	"FLOAT":                    NativeFloat,
	"FLOAT4":                   NativeFloat,
	"REAL":                     NativeFloat,
	"DOUBLE":                   NativeDouble,
	"FLOAT8":                   NativeDouble,
	"BOOLEAN":                  NativeBoolean,
	"BOOL":                     NativeBoolean,
	"TIMESTAMP":                NativeTimestamp,
	"DATETIME":                 NativeTimestamp,
	"TIMESTAMP WITH TIME ZONE": NativeTimestampTZ,
	"TIMESTAMPTZ":              NativeTimestampTZ,
	"TIMESTAMP_S":              NativeTimestampSec,
	"TIMESTAMP_MS":             NativeTimestampMilli,
	"TIMESTAMP_NS":             NativeTimestampNano,
	"DATE":                     NativeDate,
	"TIME":                     NativeTime,
	"TIME WITH TIME ZONE":      NativeTime,
	"TIMETZ":                   NativeTime,
	"VARCHAR":                  NativeVarchar,
	"TEXT":                     NativeVarchar,
	"STRING":                   NativeVarchar,
	"CHAR":                     NativeVarchar,
	"BPCHAR":                   NativeVarchar,
	"UUID":                     NativeUUID,
	"BLOB":                     NativeBlob,
	"BYTEA":                    NativeBlob,
	"INTERVAL":                 NativeInterval,
	"JSON":                     NativeJSON,
}

// ParseNativeType parses an engine type name. Parameterized types such as
// DECIMAL(18,3) resolve to their base type; nested types are NativeOther.
func ParseNativeType(s string) NativeType {
	name := strings.ToUpper(strings.TrimSpace(s))
	if strings.HasSuffix(name, "]") {
		return NativeOther
	}
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if t, ok := nativeNames[name]; ok {
		return t
	}
	return NativeOther
}

// Canonical returns the canonical type of n.
func (n NativeType) Canonical() model.CanonicalType {
	if t, ok := canonicalTypes[n]; ok {
		return t
	}
	return model.TypeString
}

// CanonicalOf maps an engine type name onto a canonical type.
func CanonicalOf(native string) model.CanonicalType {
	return ParseNativeType(native).Canonical()
}
