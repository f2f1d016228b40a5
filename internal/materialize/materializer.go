// Package materialize infers the schema of downloaded files with the query
// engine and writes one typed, force-quoted CSV table per dataset.
package materialize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/engine"
	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
)

// PinnedBigIntColumns are always exported as BIGINT when present. Sampling
// sometimes sees only empty values for them and would type them VARCHAR.
var PinnedBigIntColumns = []string{"VisibilityTime", "MouseOvers", "MouseOverTime"}

// Default primary key candidates, tried in order.
var (
	DatasetKeyCandidates  = []string{"GUID", "id"}
	MetadataKeyCandidates = []string{"id"}
)

// MetaTablePrefix prefixes metadata dimension table names.
const MetaTablePrefix = "meta_"

// Materializer writes output tables into outDir.
type Materializer struct {
	eng        *engine.Engine
	outDir     string
	sampleSize int
	log        *zap.Logger
}

// New creates a Materializer. sampleSize is passed to the CSV sniffer; -1
// samples every row.
func New(eng *engine.Engine, outDir string, sampleSize int) *Materializer {
	if sampleSize == 0 {
		sampleSize = -1
	}
	return &Materializer{
		eng:        eng,
		outDir:     outDir,
		sampleSize: sampleSize,
		log:        zap.L().With(zap.String("component", "materialize")),
	}
}

// DatasetRequest describes one dataset prefix to materialize.
type DatasetRequest struct {
	Name        string
	Files       []string
	Incremental bool

	// PrimaryKey overrides the inferred key when non-nil.
	PrimaryKey []string
}

// Dataset unions Files by column name and writes <outDir>/<Name>.csv.
func (m *Materializer) Dataset(ctx context.Context, req DatasetRequest) (model.OutputTable, error) {
	if len(req.Files) == 0 {
		return model.OutputTable{}, eris.Errorf("materialize: dataset %s has no files", req.Name)
	}

	source := fmt.Sprintf(
		"read_csv(%s, union_by_name = true, header = true, auto_detect = true, sample_size = %d)",
		engine.StringList(req.Files), m.sampleSize,
	)
	return m.materialize(ctx, req.Name, source, req.Incremental, req.PrimaryKey, DatasetKeyCandidates)
}

// MetadataRequest describes one metadata dimension.
type MetadataRequest struct {
	Dimension   string
	Path        string
	Incremental bool
	PrimaryKey  []string
}

// Metadata writes meta_<Dimension>.csv from a JSON array document. ok is
// false when the document holds no records and no table was written.
func (m *Materializer) Metadata(ctx context.Context, req MetadataRequest) (table model.OutputTable, ok bool, err error) {
	empty, err := isEmptyJSONArray(req.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.OutputTable{}, false, failure.New(failure.MetadataFileMissing,
			"Metadata file "+filepath.Base(req.Path)+" is missing")
	}
	if err != nil {
		return model.OutputTable{}, false, failure.Wrap(failure.ConversionError, err, "Failed to read metadata "+req.Dimension)
	}
	if empty {
		m.log.Info("metadata file has no records", zap.String("dimension", req.Dimension))
		return model.OutputTable{}, false, nil
	}

	source := fmt.Sprintf("read_json_auto(%s, format = 'array', sample_size = %d)",
		engine.QuoteLiteral(req.Path), m.sampleSize)
	table, err = m.materialize(ctx, MetaTablePrefix+req.Dimension, source, req.Incremental, req.PrimaryKey, MetadataKeyCandidates)
	if err != nil {
		return model.OutputTable{}, false, err
	}
	return table, true, nil
}

func (m *Materializer) materialize(ctx context.Context, name, source string, incremental bool, override, candidates []string) (model.OutputTable, error) {
	start := time.Now()

	base := "SELECT * FROM " + source
	cols, err := m.eng.Describe(ctx, base)
	if err != nil {
		return model.OutputTable{}, classify(err, name)
	}

	query := base
	if replace := pinnedReplace(cols); replace != "" {
		query = "SELECT * REPLACE (" + replace + ") FROM " + source
		if cols, err = m.eng.Describe(ctx, query); err != nil {
			return model.OutputTable{}, classify(err, name)
		}
	}

	schema := make(model.Schema, len(cols))
	for i, c := range cols {
		schema[i] = model.Column{Name: c.Name, Native: c.Type, Type: CanonicalOf(c.Type)}
	}

	pk, err := ResolvePrimaryKey(schema, override, candidates)
	if err != nil {
		return model.OutputTable{}, err
	}

	if err := os.MkdirAll(m.outDir, 0o755); err != nil {
		return model.OutputTable{}, eris.Wrap(err, "materialize: create output dir")
	}
	path := filepath.Join(m.outDir, name+".csv")
	if err := m.eng.CopyToCSV(ctx, query, path, engine.DefaultCSVOptions()); err != nil {
		return model.OutputTable{}, classify(err, name)
	}

	rows, err := m.eng.Count(ctx, fmt.Sprintf("SELECT * FROM read_csv(%s, header = true, all_varchar = true)", engine.QuoteLiteral(path)))
	if err != nil {
		return model.OutputTable{}, eris.Wrapf(err, "materialize: count rows of %s", name)
	}

	m.log.Info("table materialized",
		zap.String("table", name),
		zap.Int("columns", len(schema)),
		zap.Int64("rows", rows),
		zap.Strings("primary_key", pk),
		zap.Duration("elapsed", time.Since(start)),
	)
	return model.OutputTable{
		Name:        name,
		Path:        path,
		Schema:      schema,
		PrimaryKey:  pk,
		Incremental: incremental,
		Rows:        rows,
	}, nil
}

// pinnedReplace builds the REPLACE list casting pinned columns to BIGINT.
func pinnedReplace(cols []engine.ColumnInfo) string {
	var parts []string
	for _, pinned := range PinnedBigIntColumns {
		for _, c := range cols {
			if c.Name == pinned {
				q := engine.QuoteIdent(pinned)
				parts = append(parts, "CAST("+q+" AS BIGINT) AS "+q)
				break
			}
		}
	}
	return strings.Join(parts, ", ")
}

// ResolvePrimaryKey returns override when given, otherwise the first
// candidate column present in schema, otherwise no key.
func ResolvePrimaryKey(schema model.Schema, override, candidates []string) ([]string, error) {
	if override != nil {
		var fields []failure.FieldError
		for _, col := range override {
			if !schema.Has(col) {
				fields = append(fields, failure.FieldError{
					Field:   "destination.override_pkey",
					Message: "column " + col + " does not exist",
				})
			}
		}
		if len(fields) > 0 {
			return nil, failure.Validation(fields)
		}
		return append([]string(nil), override...), nil
	}
	for _, c := range candidates {
		if schema.Has(c) {
			return []string{c}, nil
		}
	}
	return []string{}, nil
}

func classify(err error, table string) error {
	if engine.IsConversionError(err) {
		return failure.Wrap(failure.ConversionError, err, "Failed to convert data of table "+table)
	}
	return eris.Wrapf(err, "materialize: table %s", table)
}

// isEmptyJSONArray reports whether the document at path is an empty array.
func isEmptyJSONArray(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close() //nolint:errcheck

	r := bufio.NewReader(f)
	next := func() (rune, error) {
		for {
			c, _, err := r.ReadRune()
			if err != nil {
				return 0, err
			}
			if c == '\uFEFF' || unicode.IsSpace(c) {
				continue
			}
			return c, nil
		}
	}

	first, err := next()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if first != '[' {
		return false, nil
	}
	second, err := next()
	if err == io.EOF {
		return false, eris.New("materialize: truncated JSON array")
	}
	if err != nil {
		return false, err
	}
	return second == ']', nil
}
