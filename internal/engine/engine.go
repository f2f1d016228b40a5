// Package engine wraps an in-process DuckDB database used to read, type
// and export the downloaded CSV and JSON files.
package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/c2h5oh/datasize"
	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Options bounds the resources of the engine.
type Options struct {
	Threads     int
	MemoryLimit datasize.ByteSize
	TempDir     string
}

// ColumnInfo is one row of DESCRIBE output.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
}

// CSVOptions controls COPY ... TO csv.
type CSVOptions struct {
	Header     bool
	Delimiter  string
	ForceQuote bool
}

// DefaultCSVOptions writes a header, comma delimited, every value quoted.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Header: true, Delimiter: ",", ForceQuote: true}
}

// Engine is a single-connection DuckDB database.
type Engine struct {
	db  *sql.DB
	log *zap.Logger
}

// Open creates an in-memory database configured by opts.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	settings := settingsSQL(opts)
	if opts.TempDir != "" {
		if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "engine: create temp dir")
		}
	}

	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		for _, stmt := range settings {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return eris.Wrapf(err, "engine: %s", stmt)
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: create connector")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "engine: open database")
	}

	zap.L().Debug("engine opened",
		zap.Int("threads", opts.Threads),
		zap.String("memory_limit", opts.MemoryLimit.HR()),
		zap.String("temp_dir", opts.TempDir),
	)
	return &Engine{db: db, log: zap.L().With(zap.String("component", "engine"))}, nil
}

func settingsSQL(opts Options) []string {
	var stmts []string
	if opts.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", opts.Threads))
	}
	if opts.MemoryLimit > 0 {
		mib := opts.MemoryLimit.Bytes() / datasize.MB.Bytes()
		if mib == 0 {
			mib = 1
		}
		stmts = append(stmts, fmt.Sprintf("SET memory_limit = '%dMiB'", mib))
	}
	if opts.TempDir != "" {
		stmts = append(stmts, "SET temp_directory = "+QuoteLiteral(opts.TempDir))
	}
	stmts = append(stmts, "SET preserve_insertion_order = true")
	return stmts
}

// Close releases the database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Exec runs a statement.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "engine: exec %s", abbreviate(query))
	}
	return nil
}

// Describe returns the columns a query produces.
func (e *Engine) Describe(ctx context.Context, query string) ([]ColumnInfo, error) {
	rows, err := e.db.QueryContext(ctx, "DESCRIBE "+query)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: describe %s", abbreviate(query))
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "engine: describe columns")
	}

	var out []ColumnInfo
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "engine: scan describe row")
		}

		var ci ColumnInfo
		for i, c := range cols {
			switch c {
			case "column_name":
				ci.Name = vals[i].String
			case "column_type":
				ci.Type = vals[i].String
			case "null":
				ci.Nullable = strings.EqualFold(vals[i].String, "YES")
			}
		}
		out = append(out, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "engine: iterate describe rows")
	}
	return out, nil
}

// Count returns the number of rows a query produces.
func (e *Engine) Count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := e.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+query+")").Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "engine: count %s", abbreviate(query))
	}
	return n, nil
}

// CopyToCSV writes the result of query to path.
func (e *Engine) CopyToCSV(ctx context.Context, query, path string, opts CSVOptions) error {
	stmt := fmt.Sprintf("COPY (%s) TO %s (%s)", query, QuoteLiteral(path), copyOptions(opts))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return eris.Wrapf(err, "engine: copy to %s", path)
	}
	return nil
}

func copyOptions(opts CSVOptions) string {
	delim := opts.Delimiter
	if delim == "" {
		delim = ","
	}
	parts := []string{
		"FORMAT csv",
		fmt.Sprintf("HEADER %t", opts.Header),
		"DELIMITER " + QuoteLiteral(delim),
	}
	if opts.ForceQuote {
		parts = append(parts, "FORCE_QUOTE *")
	}
	return strings.Join(parts, ", ")
}

// IsConversionError reports whether err is a value conversion failure
// raised while casting or parsing input.
func IsConversionError(err error) bool {
	if err == nil {
		return false
	}
	var de *duckdb.Error
	if errors.As(err, &de) {
		return de.Type == duckdb.ErrorTypeConversion || de.Type == duckdb.ErrorTypeInvalidInput
	}
	msg := err.Error()
	return strings.Contains(msg, "Conversion Error") || strings.Contains(msg, "Invalid Input Error")
}

// QuoteIdent quotes an identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// StringList renders items as a list literal: ['a', 'b'].
func StringList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = QuoteLiteral(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func abbreviate(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 120 {
		return q[:120] + "..."
	}
	return q
}
