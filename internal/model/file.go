package model

import (
	"path/filepath"
	"strings"
	"time"
)

// MetaDataset is the Dataset value assigned to the metadata bundle.
const MetaDataset = "meta"

// RemoteFile is a file exported by the provider for a setup.
type RemoteFile struct {
	ID        string
	Name      string
	SetupID   string
	CreatedAt time.Time

	// Dataset is the requested prefix the file matched, or MetaDataset.
	Dataset string
}

// Key returns the provider identity of the file.
func (f RemoteFile) Key() string {
	return f.SetupID + "/" + f.ID
}

// Compression describes the container format of a downloaded file.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZip  Compression = "zip"
)

// CompressionOf derives the container format from a file name.
// ok is false for extensions the connector does not understand.
func CompressionOf(name string) (c Compression, ok bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		return CompressionGzip, true
	case ".zip":
		return CompressionZip, true
	case ".csv", ".json":
		return CompressionNone, true
	default:
		return "", false
	}
}

// LocalFile is a downloaded artifact owned by the current run.
type LocalFile struct {
	Source      RemoteFile
	Path        string
	Compression Compression
	Encoding    string
}
