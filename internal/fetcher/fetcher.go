// Package fetcher downloads Masterdata exports and normalizes them into
// files the query engine can read.
package fetcher

import (
	"context"
	"io"
)

// Source opens the body of a remote file.
type Source interface {
	Download(ctx context.Context, setupID, fileID string) (io.ReadCloser, error)
}

// bufferSize is the copy buffer used for downloads and transcoding.
const bufferSize = 1 << 20
