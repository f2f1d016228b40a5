// Package kbc reads and writes the Keboola data directory: run state and
// output table manifests.
package kbc

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"

	"github.com/sells-group/adform-extractor/internal/model"
)

// DataDir is a Keboola component data directory.
type DataDir struct {
	fs   afero.Fs
	root string
}

// New returns a DataDir rooted at root on fsys.
func New(fsys afero.Fs, root string) *DataDir {
	return &DataDir{fs: fsys, root: root}
}

// NewOS returns a DataDir on the local filesystem.
func NewOS(root string) *DataDir {
	return New(afero.NewOsFs(), root)
}

// Root returns the data directory path.
func (d *DataDir) Root() string { return d.root }

// InStatePath is the state handed over by the previous run.
func (d *DataDir) InStatePath() string { return filepath.Join(d.root, "in", "state.json") }

// OutStatePath is the state handed over to the next run.
func (d *DataDir) OutStatePath() string { return filepath.Join(d.root, "out", "state.json") }

// TablesDir is where output tables and their manifests are written.
func (d *DataDir) TablesDir() string { return filepath.Join(d.root, "out", "tables") }

// EnsureLayout creates the output directories. Safe to call repeatedly.
func (d *DataDir) EnsureLayout() error {
	if err := d.fs.MkdirAll(d.TablesDir(), 0o755); err != nil {
		return eris.Wrap(err, "kbc: create tables dir")
	}
	return nil
}

// ReadState loads in/state.json. A missing or empty file yields a zero state.
func (d *DataDir) ReadState() (model.TokenState, error) {
	data, err := afero.ReadFile(d.fs, d.InStatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return model.TokenState{}, nil
	}
	if err != nil {
		return model.TokenState{}, eris.Wrap(err, "kbc: read state")
	}
	if len(data) == 0 {
		return model.TokenState{}, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.TokenState{}, eris.Wrap(err, "kbc: unmarshal state")
	}
	// Values of unexpected types are treated as absent.
	state := model.TokenState{}
	if s, ok := raw["auth_id"].(string); ok {
		state.AuthID = s
	}
	if s, ok := raw["#refresh_token"].(string); ok {
		state.RefreshToken = s
	}
	return state, nil
}

// WriteState replaces out/state.json.
func (d *DataDir) WriteState(state model.TokenState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "kbc: marshal state")
	}
	if err := d.fs.MkdirAll(filepath.Dir(d.OutStatePath()), 0o755); err != nil {
		return eris.Wrap(err, "kbc: create out dir")
	}
	if err := afero.WriteFile(d.fs, d.OutStatePath(), data, 0o600); err != nil {
		return eris.Wrap(err, "kbc: write state")
	}
	return nil
}

// TablePath returns the CSV path of an output table.
func (d *DataDir) TablePath(name string) string {
	return filepath.Join(d.TablesDir(), name+".csv")
}
