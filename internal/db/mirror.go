package db

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/model"
)

// DefaultBatchSize is the number of CSV rows sent per COPY or upsert.
const DefaultBatchSize = 5000

var postgresTypes = map[model.CanonicalType]string{
	model.TypeInteger:   "BIGINT",
	model.TypeNumeric:   "NUMERIC",
	model.TypeFloat:     "DOUBLE PRECISION",
	model.TypeBoolean:   "BOOLEAN",
	model.TypeTimestamp: "TIMESTAMP",
	model.TypeDate:      "DATE",
	model.TypeString:    "TEXT",
}

// wideIntegers are native integer types that do not fit in BIGINT.
var wideIntegers = map[string]bool{
	"HUGEINT":  true,
	"UBIGINT":  true,
	"UHUGEINT": true,
}

// mirrorType is the canonical type used for c in Postgres. Integers wider
// than int64 are stored as NUMERIC.
func mirrorType(c model.Column) model.CanonicalType {
	if c.Type == model.TypeInteger && wideIntegers[strings.ToUpper(c.Native)] {
		return model.TypeNumeric
	}
	return c.Type
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
}

// Mirror loads output tables into Postgres tables of the same name.
type Mirror struct {
	pool      Pool
	schema    string
	batchSize int
	log       *zap.Logger
}

// NewMirror creates a Mirror writing into schema.
func NewMirror(pool Pool, schema string) *Mirror {
	return &Mirror{
		pool:      pool,
		schema:    schema,
		batchSize: DefaultBatchSize,
		log:       zap.L().With(zap.String("component", "mirror")),
	}
}

// Load creates the target table if needed and loads the table's CSV into
// it. Full loads truncate first; incremental loads upsert on the primary
// key, or append when the table has none.
func (m *Mirror) Load(ctx context.Context, t model.OutputTable) (int64, error) {
	start := time.Now()
	target := pgx.Identifier{m.schema, t.Name}

	if _, err := m.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{m.schema}.Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "db: create schema %s", m.schema)
	}
	if _, err := m.pool.Exec(ctx, CreateTableSQL(target, t.Schema, t.PrimaryKey)); err != nil {
		return 0, eris.Wrapf(err, "db: create table %s", t.Name)
	}
	if !t.Incremental {
		if _, err := m.pool.Exec(ctx, "TRUNCATE TABLE "+target.Sanitize()); err != nil {
			return 0, eris.Wrapf(err, "db: truncate %s", t.Name)
		}
	}

	f, err := os.Open(t.Path)
	if err != nil {
		return 0, eris.Wrapf(err, "db: open %s", t.Path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "db: read header of %s", t.Name)
	}
	columns := append([]string(nil), header...)

	convs := make([]converter, len(columns))
	for i, name := range columns {
		col, _ := t.Schema.Column(name)
		convs[i] = converterFor(mirrorType(col))
	}

	upsert := t.Incremental && len(t.PrimaryKey) > 0
	keyIdx := indexesOf(columns, t.PrimaryKey)

	var total int64
	batch := make([][]any, 0, m.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var (
			n   int64
			err error
		)
		if upsert {
			n, err = BulkUpsert(ctx, m.pool, UpsertConfig{Table: target, Columns: columns, ConflictKeys: t.PrimaryKey}, dedupe(batch, keyIdx))
		} else {
			n, err = CopyFrom(ctx, m.pool, target, columns, batch)
		}
		if err != nil {
			return err
		}
		total += n
		batch = batch[:0]
		return nil
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, eris.Wrapf(err, "db: read %s", t.Name)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			if row[i], err = convs[i](v); err != nil {
				return total, eris.Wrapf(err, "db: %s line %d column %s", t.Name, line, columns[i])
			}
		}
		batch = append(batch, row)
		if len(batch) >= m.batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	m.log.Info("table mirrored",
		zap.String("table", target.Sanitize()),
		zap.Int64("rows", total),
		zap.Bool("upsert", upsert),
		zap.Duration("elapsed", time.Since(start)),
	)
	return total, nil
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for schema.
func CreateTableSQL(table pgx.Identifier, schema model.Schema, pk []string) string {
	defs := make([]string, 0, len(schema)+1)
	for _, c := range schema {
		typ, ok := postgresTypes[mirrorType(c)]
		if !ok {
			typ = "TEXT"
		}
		defs = append(defs, pgx.Identifier{c.Name}.Sanitize()+" "+typ)
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteAndJoin(pk)+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + table.Sanitize() + " (" + strings.Join(defs, ", ") + ")"
}

type converter func(string) (any, error)

func converterFor(t model.CanonicalType) converter {
	switch t {
	case model.TypeInteger:
		return nullable(func(v string) (any, error) { return strconv.ParseInt(v, 10, 64) })
	case model.TypeNumeric:
		return nullable(func(v string) (any, error) {
			var n pgtype.Numeric
			if err := n.Scan(v); err != nil {
				return nil, err
			}
			return n, nil
		})
	case model.TypeFloat:
		return nullable(func(v string) (any, error) { return strconv.ParseFloat(v, 64) })
	case model.TypeBoolean:
		return nullable(func(v string) (any, error) { return strconv.ParseBool(v) })
	case model.TypeTimestamp:
		return nullable(parseTimestamp)
	case model.TypeDate:
		return nullable(func(v string) (any, error) { return time.Parse(time.DateOnly, v) })
	default:
		return func(v string) (any, error) { return v, nil }
	}
}

// nullable maps empty CSV values to NULL before parsing.
func nullable(parse converter) converter {
	return func(v string) (any, error) {
		if v == "" {
			return nil, nil
		}
		return parse(v)
	}
}

func parseTimestamp(v string) (any, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, eris.Errorf("invalid timestamp %q", v)
}

func indexesOf(columns, names []string) []int {
	idx := make([]int, 0, len(names))
	for _, n := range names {
		for i, c := range columns {
			if c == n {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// dedupe keeps the last row for each key so one upsert statement never
// touches a row twice.
func dedupe(rows [][]any, keyIdx []int) [][]any {
	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	var b strings.Builder
	for _, row := range rows {
		b.Reset()
		for _, i := range keyIdx {
			b.WriteString(keyPart(row[i]))
			b.WriteByte(0x1f)
		}
		k := b.String()
		if p, ok := pos[k]; ok {
			out[p] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

func keyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case pgtype.Numeric:
		b, _ := x.MarshalJSON()
		return string(b)
	default:
		return ""
	}
}
