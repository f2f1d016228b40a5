package model

// CanonicalType is the storage platform's column base type.
type CanonicalType string

const (
	TypeInteger   CanonicalType = "INTEGER"
	TypeNumeric   CanonicalType = "NUMERIC"
	TypeFloat     CanonicalType = "FLOAT"
	TypeBoolean   CanonicalType = "BOOLEAN"
	TypeTimestamp CanonicalType = "TIMESTAMP"
	TypeDate      CanonicalType = "DATE"
	TypeString    CanonicalType = "STRING"
)

// AllCanonicalTypes returns every canonical type.
func AllCanonicalTypes() []CanonicalType {
	return []CanonicalType{
		TypeInteger,
		TypeNumeric,
		TypeFloat,
		TypeBoolean,
		TypeTimestamp,
		TypeDate,
		TypeString,
	}
}

// Column is one inferred output column.
type Column struct {
	Name   string        `json:"name"`
	Native string        `json:"native"`
	Type   CanonicalType `json:"type"`
}

// Schema is an ordered list of columns.
type Schema []Column

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column with the exact name exists.
func (s Schema) Has(name string) bool {
	for _, c := range s {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Column returns the column with the given name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// OutputTable is a finalized table handed to the output sink.
type OutputTable struct {
	Name        string
	Path        string
	Schema      Schema
	PrimaryKey  []string
	Incremental bool
	Rows        int64
}
