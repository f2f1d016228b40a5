package fetcher

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
)

const utf8Charset = "UTF-8"

// IsUTF8 reports whether charset names UTF-8 in any common spelling.
func IsUTF8(charset string) bool {
	c := strings.ToLower(strings.TrimSpace(charset))
	return c == "" || c == "utf-8" || c == "utf8" || c == "utf_8"
}

// LookupCharset resolves a charset name to a decoder.
func LookupCharset(charset string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(charset); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		return nil, failure.Validation([]failure.FieldError{
			{Field: "source.file_charset", Message: "unsupported charset " + charset},
		})
	}
	return enc, nil
}

// Normalizer turns downloaded files into UTF-8 CSV and JSON files the
// engine reads.
type Normalizer struct {
	log *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{log: zap.L().With(zap.String("component", "normalizer"))}
}

// Normalize prepares files for reading. UTF-8 gzip, CSV and JSON files are
// returned untouched since the engine decompresses gzip itself. Other
// charsets are decompressed and transcoded into a sibling <dir>_utf8
// directory, dropping the .gz suffix. ZIP files are extracted and their
// members normalized.
func (n *Normalizer) Normalize(files []model.LocalFile, charset string) ([]model.LocalFile, error) {
	var dec encoding.Encoding
	if !IsUTF8(charset) {
		enc, err := LookupCharset(charset)
		if err != nil {
			return nil, err
		}
		dec = enc
	}

	out := make([]model.LocalFile, 0, len(files))
	for _, f := range files {
		normalized, err := n.normalize(f, dec)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized...)
	}
	return out, nil
}

func (n *Normalizer) normalize(f model.LocalFile, dec encoding.Encoding) ([]model.LocalFile, error) {
	compression, ok := model.CompressionOf(f.Path)
	if !ok {
		return nil, failure.New(failure.UnsupportedArchiveType,
			"Failed to unzip downloaded file: "+filepath.Base(f.Path)+" Unsupported archive type.")
	}
	f.Compression = compression

	switch compression {
	case model.CompressionZip:
		members, err := ExtractZIP(f.Path, strings.TrimSuffix(f.Path, filepath.Ext(f.Path)))
		if err != nil {
			return nil, failure.Wrap(failure.UnsupportedArchiveType, err, "Failed to unzip downloaded file: "+filepath.Base(f.Path))
		}
		var out []model.LocalFile
		for _, m := range members {
			nested, err := n.normalize(model.LocalFile{Source: f.Source, Path: m}, dec)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
		return out, nil

	default:
		if dec == nil {
			f.Encoding = utf8Charset
			return []model.LocalFile{f}, nil
		}
		path, err := n.transcode(f, dec)
		if err != nil {
			return nil, err
		}
		return []model.LocalFile{{Source: f.Source, Path: path, Compression: model.CompressionNone, Encoding: utf8Charset}}, nil
	}
}

// transcode writes <dir>_utf8/<name without .gz> decoded with dec.
func (n *Normalizer) transcode(f model.LocalFile, dec encoding.Encoding) (string, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: open file")
	}
	defer src.Close() //nolint:errcheck

	var r io.Reader = src
	name := filepath.Base(f.Path)
	if f.Compression == model.CompressionGzip {
		gz, err := gzip.NewReader(src)
		if err != nil {
			return "", failure.Wrap(failure.UnsupportedArchiveType, err, "Failed to unzip downloaded file: "+name)
		}
		defer gz.Close() //nolint:errcheck
		r = gz
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	dir := filepath.Clean(filepath.Dir(f.Path)) + "_utf8"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create utf8 dir")
	}
	dest := filepath.Join(dir, name)

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create utf8 file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.CopyBuffer(out, transform.NewReader(r, dec.NewDecoder()), make([]byte, bufferSize)); err != nil {
		return "", eris.Wrapf(err, "fetcher: transcode %s", filepath.Base(f.Path))
	}
	n.log.Debug("transcoded file", zap.String("file", name), zap.String("path", dest))
	return dest, nil
}
