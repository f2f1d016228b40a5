package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adform-extractor/internal/failure"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "files", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "adform-extractor", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.RunE)

	flag := rootCmd.PersistentFlags().Lookup("data-dir")
	require.NotNil(t, flag)
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("KBC_DATADIR", "/tmp/kbc")
	assert.Equal(t, "/tmp/kbc", defaultDataDir())

	t.Setenv("KBC_DATADIR", "")
	assert.Equal(t, "/data", defaultDataDir())
}

func TestUserMessage(t *testing.T) {
	userErr := failure.New(failure.ConfigValidation, "For component run, please authenticate.")
	assert.Equal(t, "For component run, please authenticate.", userMessage(wrapTwice(userErr)))

	plain := os.ErrPermission
	assert.Equal(t, plain.Error(), userMessage(plain))
}

func wrapTwice(err error) error {
	return &wrapped{&wrapped{err}}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "outer: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func executeArgs(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stderr bytes.Buffer
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	code := execute(context.Background(), &stderr)
	return code, stderr.String()
}

func TestExecute_InvalidConfigIsUserError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"parameters": `), 0o644))

	code, stderr := executeArgs(t, "--data-dir", dir, "run")
	assert.Equal(t, failure.ExitUser, code)
	assert.Contains(t, stderr, "config.json is not valid JSON")
}

func TestExecute_ValidationErrorIsUserError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"parameters": {"source": {}}}`), 0o644))

	code, stderr := executeArgs(t, "--data-dir", dir, "run")
	assert.Equal(t, failure.ExitUser, code)
	assert.Contains(t, stderr, "Validation Error: source.setup_id: field required")
}

func TestExecute_RunsListWithoutRunLog(t *testing.T) {
	code, _ := executeArgs(t, "--data-dir", t.TempDir(), "runs", "list")
	assert.Equal(t, failure.ExitOK, code)
}

func TestExecute_UnknownCommandIsUnexpected(t *testing.T) {
	code, _ := executeArgs(t, "--data-dir", t.TempDir(), "bogus")
	assert.Equal(t, failure.ExitUnexpected, code)
}
