package kbc

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/sells-group/adform-extractor/internal/model"
)

// Metadata keys understood by Keboola Storage for column types.
const (
	MetaBaseType = "KBC.datatype.basetype"
	MetaType     = "KBC.datatype.type"
)

// MetadataEntry is one key/value column metadata item.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Manifest describes how an output CSV is loaded into Storage. The CSV
// carries its own header, so columns are not listed.
type Manifest struct {
	Incremental    bool                       `json:"incremental"`
	PrimaryKey     []string                   `json:"primary_key"`
	Delimiter      string                     `json:"delimiter"`
	Enclosure      string                     `json:"enclosure"`
	ColumnMetadata map[string][]MetadataEntry `json:"column_metadata,omitempty"`
}

// NewManifest builds the manifest of an output table.
func NewManifest(t model.OutputTable) Manifest {
	m := Manifest{
		Incremental: t.Incremental,
		PrimaryKey:  t.PrimaryKey,
		Delimiter:   ",",
		Enclosure:   `"`,
	}
	if m.PrimaryKey == nil {
		m.PrimaryKey = []string{}
	}
	if len(t.Schema) > 0 {
		m.ColumnMetadata = make(map[string][]MetadataEntry, len(t.Schema))
		for _, col := range t.Schema {
			m.ColumnMetadata[col.Name] = []MetadataEntry{
				{Key: MetaBaseType, Value: string(col.Type)},
				{Key: MetaType, Value: col.Native},
			}
		}
	}
	return m
}

// ManifestPath returns the manifest path of an output table.
func (d *DataDir) ManifestPath(name string) string {
	return d.TablePath(name) + ".manifest"
}

// WriteManifest writes <table>.csv.manifest next to the table.
func (d *DataDir) WriteManifest(t model.OutputTable) error {
	data, err := json.MarshalIndent(NewManifest(t), "", "  ")
	if err != nil {
		return eris.Wrapf(err, "kbc: marshal manifest %s", t.Name)
	}
	if err := d.EnsureLayout(); err != nil {
		return err
	}
	if err := afero.WriteFile(d.fs, d.ManifestPath(t.Name), data, 0o644); err != nil {
		return eris.Wrapf(err, "kbc: write manifest %s", t.Name)
	}
	return nil
}
