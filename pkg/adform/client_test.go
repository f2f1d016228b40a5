package adform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
)

func descriptors(from, n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, map[string]any{
			"id":        fmt.Sprintf("f%d", i),
			"name":      fmt.Sprintf("Click_%d.csv.gz", i),
			"setup":     "S1",
			"createdAt": "2024-03-01T10:00:00Z",
		})
	}
	return out
}

func collect(t *testing.T, c Client) ([]model.RemoteFile, error) {
	t.Helper()
	var files []model.RemoteFile
	for f, err := range c.Files(context.Background(), "S1") {
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

func TestFiles_Paginates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/v1/buyer/masterdata/files/S1", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("Return-Total-Count"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		remaining := 7 - offset
		_ = json.NewEncoder(w).Encode(descriptors(offset, min(3, remaining)))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL), WithPageSize(3))
	files, err := collect(t, c)
	require.NoError(t, err)

	require.Len(t, files, 7)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, "f0", files[0].ID)
	assert.Equal(t, "f6", files[6].ID)
	assert.Equal(t, "S1", files[0].SetupID)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), files[0].CreatedAt)
}

func TestFiles_ShortPageTerminates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(descriptors(0, 2))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL), WithPageSize(5))
	files, err := collect(t, c)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, int32(1), requests.Load())
}

func TestFiles_EmptyPageTerminates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Query().Get("offset") == "0" {
			_ = json.NewEncoder(w).Encode(descriptors(0, 2))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL), WithPageSize(2))
	files, err := collect(t, c)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, int32(2), requests.Load())
}

func TestFiles_BreakStopsRequests(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(descriptors(0, 2))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL), WithPageSize(2))
	for f, err := range c.Files(context.Background(), "S1") {
		require.NoError(t, err)
		assert.Equal(t, "f0", f.ID)
		break
	}
	assert.Equal(t, int32(1), requests.Load())
}

func TestFiles_RestartsAtOffsetZero(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		_ = json.NewEncoder(w).Encode(descriptors(0, 1))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL), WithPageSize(2))
	_, err := collect(t, c)
	require.NoError(t, err)
	_, err = collect(t, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "0"}, offsets)
}

func TestFiles_NumericIDsAndZonelessTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 42, "name": "meta_1.zip", "setup": 7, "createdAt": "2024-03-01T10:00:00"}]`))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL))
	files, err := collect(t, c)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "42", files[0].ID)
	assert.Equal(t, "7", files[0].SetupID)
	assert.Equal(t, time.UTC, files[0].CreatedAt.Location())
	assert.Equal(t, 10, files[0].CreatedAt.Hour())
}

func TestFiles_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid token"}`))
	}))
	defer srv.Close()

	c := NewClient("bad", WithBaseURL(srv.URL))
	files, err := collect(t, c)
	require.Error(t, err)
	assert.Empty(t, files)
	assert.Equal(t, failure.CatalogUnavailable, failure.KindOf(err))
	assert.Contains(t, err.Error(), "401")
}

func TestDownload_Streams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/buyer/masterdata/download/S1/f1", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL+"/"))
	body, err := c.Download(context.Background(), "S1", "f1")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("access", WithBaseURL(srv.URL))
	body, err := c.Download(context.Background(), "S1", "missing")
	assert.Error(t, err)
	assert.Nil(t, body)
	assert.Contains(t, err.Error(), "404")
}

func TestWithRateLimit(t *testing.T) {
	c := NewClient("access", WithRateLimit(10)).(*httpClient)
	require.NotNil(t, c.limiter)

	c = NewClient("access", WithRateLimit(0)).(*httpClient)
	assert.Nil(t, c.limiter)
}
