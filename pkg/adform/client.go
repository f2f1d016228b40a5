// Package adform wraps the Adform Buyer Masterdata API and the Adform
// identity token endpoint.
package adform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
)

const (
	defaultBaseURL  = "https://api.adform.com"
	defaultPageSize = 1000

	filesPath    = "/v1/buyer/masterdata/files/"
	downloadPath = "/v1/buyer/masterdata/download/"
)

// Client lists and downloads Masterdata files of a setup.
type Client interface {
	// Files lazily enumerates the catalog of a setup, one page per request.
	// Every call starts again at offset 0.
	Files(ctx context.Context, setupID string) iter.Seq2[model.RemoteFile, error]

	// Download opens the body of one file. The caller closes it.
	Download(ctx context.Context, setupID, fileID string) (io.ReadCloser, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPageSize overrides the catalog page size.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit throttles requests to rps per second. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	accessToken string
	baseURL     string
	pageSize    int
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a Masterdata client authorized with a bearer access token.
func NewClient(accessToken string, opts ...Option) Client {
	c := &httpClient{
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		pageSize:    defaultPageSize,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// fileDescriptor is one element of the catalog response.
type fileDescriptor struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	Setup     flexID `json:"setup"`
	CreatedAt string `json:"createdAt"`
}

// flexID accepts identifiers encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (d fileDescriptor) toRemoteFile(setupID string) (model.RemoteFile, error) {
	created, err := iso8601.ParseString(d.CreatedAt)
	if err != nil {
		return model.RemoteFile{}, eris.Wrapf(err, "adform: parse createdAt %q of file %s", d.CreatedAt, d.ID)
	}
	setup := string(d.Setup)
	if setup == "" {
		setup = setupID
	}
	return model.RemoteFile{
		ID:        string(d.ID),
		Name:      d.Name,
		SetupID:   setup,
		CreatedAt: created.UTC(),
	}, nil
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) Files(ctx context.Context, setupID string) iter.Seq2[model.RemoteFile, error] {
	return func(yield func(model.RemoteFile, error) bool) {
		for offset := 0; ; offset += c.pageSize {
			page, err := c.filesPage(ctx, setupID, offset)
			if err != nil {
				yield(model.RemoteFile{}, failure.Wrap(failure.CatalogUnavailable, err, "Failed to list Masterdata files"))
				return
			}

			for _, d := range page {
				f, err := d.toRemoteFile(setupID)
				if err != nil {
					yield(model.RemoteFile{}, failure.Wrap(failure.CatalogUnavailable, err, "Failed to list Masterdata files"))
					return
				}
				if !yield(f, nil) {
					return
				}
			}

			if len(page) < c.pageSize {
				return
			}
		}
	}
}

func (c *httpClient) filesPage(ctx context.Context, setupID string, offset int) ([]fileDescriptor, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "adform: rate limit")
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	endpoint := c.baseURL + filesPath + url.PathEscape(setupID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "adform: create files request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Return-Total-Count", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "adform: send files request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "adform: read files response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("adform: files unexpected status %d: %s", resp.StatusCode, truncate(body))
	}

	var page []fileDescriptor
	if len(body) == 0 {
		return page, nil
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, eris.Wrap(err, "adform: unmarshal files response")
	}
	return page, nil
}

func (c *httpClient) Download(ctx context.Context, setupID, fileID string) (io.ReadCloser, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "adform: rate limit")
	}

	endpoint := fmt.Sprintf("%s%s%s/%s", c.baseURL, downloadPath, url.PathEscape(setupID), url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "adform: create download request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "adform: download file %s", fileID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, eris.Errorf("adform: download file %s unexpected status %d: %s", fileID, resp.StatusCode, truncate(body))
	}
	return resp.Body, nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
