package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
)

// Retriever downloads remote files one at a time.
type Retriever struct {
	src Source
	log *zap.Logger
}

// NewRetriever creates a Retriever reading from src.
func NewRetriever(src Source) *Retriever {
	return &Retriever{
		src: src,
		log: zap.L().With(zap.String("component", "retriever")),
	}
}

// Download streams file into destDir/<dataset>/<name>.
func (r *Retriever) Download(ctx context.Context, file model.RemoteFile, destDir string) (model.LocalFile, error) {
	if file.Name == "" || strings.ContainsAny(file.Name, `/\`) || file.Name == "." || file.Name == ".." {
		return model.LocalFile{}, failure.New(failure.DownloadFailed, "Unsafe file name in catalog: "+file.Name)
	}

	dir := destDir
	if file.Dataset != "" {
		dir = filepath.Join(destDir, file.Dataset)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.LocalFile{}, eris.Wrap(err, "fetcher: create download dir")
	}
	path := filepath.Join(dir, file.Name)

	start := time.Now()
	body, err := r.src.Download(ctx, file.SetupID, file.ID)
	if err != nil {
		return model.LocalFile{}, failure.Wrap(failure.DownloadFailed, err, "Failed to download file "+file.Name)
	}
	defer body.Close() //nolint:errcheck

	n, err := writeFile(path, body)
	if err != nil {
		return model.LocalFile{}, failure.Wrap(failure.DownloadFailed, err, "Failed to download file "+file.Name)
	}

	compression, _ := model.CompressionOf(file.Name)
	r.log.Debug("downloaded file",
		zap.String("file", file.Name),
		zap.String("dataset", file.Dataset),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return model.LocalFile{Source: file, Path: path, Compression: compression}, nil
}

// DownloadAll downloads files sequentially and stops at the first failure.
func (r *Retriever) DownloadAll(ctx context.Context, files []model.RemoteFile, destDir string) ([]model.LocalFile, error) {
	out := make([]model.LocalFile, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "fetcher: download cancelled")
		}
		lf, err := r.Download(ctx, f, destDir)
		if err != nil {
			return out, err
		}
		out = append(out, lf)
	}
	r.log.Info("downloaded files", zap.Int("count", len(out)))
	return out, nil
}

// writeFile copies r into path through a temporary sibling so a failed
// transfer never leaves a truncated file under the final name.
func writeFile(path string, r io.Reader) (int64, error) {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}

	n, err := io.CopyBuffer(f, r, make([]byte, bufferSize))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "fetcher: write file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "fetcher: close file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return n, eris.Wrap(err, "fetcher: rename file")
	}
	return n, nil
}
