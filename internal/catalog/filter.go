package catalog

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/sells-group/adform-extractor/internal/model"
)

// Filter drains files and keeps those created inside window whose name
// starts with one of prefixes. Catalog order is preserved and Dataset is
// set to the first matching prefix in the order given.
func Filter(files iter.Seq2[model.RemoteFile, error], window Window, prefixes []string) ([]model.RemoteFile, error) {
	var out []model.RemoteFile
	for f, err := range files {
		if err != nil {
			return nil, err
		}
		if kept, ok := match(f, window, prefixes); ok {
			out = append(out, kept)
		}
	}
	return out, nil
}

func match(f model.RemoteFile, window Window, prefixes []string) (model.RemoteFile, bool) {
	if !window.Contains(f.CreatedAt) {
		return f, false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(f.Name, p) {
			f.Dataset = p
			return f, true
		}
	}
	return f, false
}

// GroupByDataset returns the files whose name starts with each prefix.
// Overlapping prefixes share files. Prefixes without files map to an empty
// slice.
func GroupByDataset(files []model.RemoteFile, prefixes []string) map[string][]model.RemoteFile {
	groups := make(map[string][]model.RemoteFile, len(prefixes))
	for _, p := range prefixes {
		groups[p] = nil
		for _, f := range files {
			if strings.HasPrefix(f.Name, p) {
				groups[p] = append(groups[p], f)
			}
		}
	}
	return groups
}

// LatestBundle returns the newest metadata archive among files. Ties keep
// the file listed first.
func LatestBundle(files []model.RemoteFile) (model.RemoteFile, bool) {
	var (
		best  model.RemoteFile
		found bool
	)
	for _, f := range files {
		if !strings.HasPrefix(f.Name, model.MetaDataset) || !strings.EqualFold(filepath.Ext(f.Name), ".zip") {
			continue
		}
		if !found || f.CreatedAt.After(best.CreatedAt) {
			best, found = f, true
		}
	}
	if found {
		best.Dataset = model.MetaDataset
	}
	return best, found
}
