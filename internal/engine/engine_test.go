package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), Options{Threads: 1, MemoryLimit: 256 * datasize.MB, TempDir: filepath.Join(t.TempDir(), "duck")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSettingsSQL(t *testing.T) {
	stmts := settingsSQL(Options{Threads: 1, MemoryLimit: 400 * datasize.MB, TempDir: "/tmp/run's"})
	assert.Equal(t, []string{
		"SET threads = 1",
		"SET memory_limit = '400MiB'",
		"SET temp_directory = '/tmp/run''s'",
		"SET preserve_insertion_order = true",
	}, stmts)
}

func TestOpenAppliesSettings(t *testing.T) {
	e := openTest(t)

	var threads int64
	require.NoError(t, e.db.QueryRow("SELECT current_setting('threads')").Scan(&threads))
	assert.Equal(t, int64(1), threads)
}

func TestDescribeCountCopy(t *testing.T) {
	e := openTest(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(src, []byte("id,name\n1,a\n2,b\n"), 0o644))

	query := "SELECT * FROM read_csv(" + StringList([]string{src}) + ", header = true)"
	cols, err := e.Describe(ctx, query)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "BIGINT", cols[0].Type)
	assert.Equal(t, "name", cols[1].Name)
	assert.Equal(t, "VARCHAR", cols[1].Type)

	n, err := e.Count(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	out := filepath.Join(dir, "out.csv")
	require.NoError(t, e.CopyToCSV(ctx, query, out, DefaultCSVOptions()))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "id")
	assert.Contains(t, string(data), "\"1\",\"a\"\n\"2\",\"b\"\n")
}

func TestIsConversionError(t *testing.T) {
	e := openTest(t)
	err := e.Exec(context.Background(), "SELECT CAST('abc' AS BIGINT)")
	require.Error(t, err)
	assert.True(t, IsConversionError(err))

	assert.False(t, IsConversionError(nil))
	assert.False(t, IsConversionError(errors.New("Catalog Error: table missing")))
	assert.True(t, IsConversionError(errors.New("Invalid Input Error: bad line")))
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `'it''s'`, QuoteLiteral("it's"))
	assert.Equal(t, `['a', 'b''c']`, StringList([]string{"a", "b'c"}))
	assert.Equal(t, "FORMAT csv, HEADER true, DELIMITER ',', FORCE_QUOTE *", copyOptions(DefaultCSVOptions()))
}
