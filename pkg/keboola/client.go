// Package keboola is a minimal client for the Keboola Storage and Encryption
// APIs used to persist component state between runs.
package keboola

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/adform-extractor/internal/model"
	"github.com/sells-group/adform-extractor/internal/resilience"
)

// Client writes encrypted component state.
type Client interface {
	// Encrypt returns the project-scoped ciphertext of value.
	Encrypt(ctx context.Context, value string) (string, error)

	// UpdateConfigState replaces the component section of the configuration state.
	UpdateConfigState(ctx context.Context, state model.TokenState) error
}

// Settings identifies the project, component and configuration.
type Settings struct {
	StorageURL  string
	Token       string
	ProjectID   string
	ComponentID string
	ConfigID    string
	BranchID    string
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithEncryptionURL overrides the Encryption API URL derived from the storage URL.
func WithEncryptionURL(u string) Option {
	return func(c *httpClient) {
		c.encryptionURL = strings.TrimRight(u, "/")
	}
}

type httpClient struct {
	settings      Settings
	storageURL    string
	encryptionURL string
	http          *http.Client
}

// NewClient creates a Storage/Encryption API client.
func NewClient(s Settings, opts ...Option) Client {
	storage := strings.TrimRight(s.StorageURL, "/")
	c := &httpClient{
		settings:      s,
		storageURL:    storage,
		encryptionURL: EncryptionURL(storage),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EncryptionURL derives the Encryption API host from a stack connection URL,
// e.g. https://connection.keboola.com -> https://encryption.keboola.com.
func EncryptionURL(storageURL string) string {
	u, err := url.Parse(storageURL)
	if err != nil || u.Host == "" {
		return strings.Replace(storageURL, "connection.", "encryption.", 1)
	}
	u.Host = strings.Replace(u.Host, "connection.", "encryption.", 1)
	u.Path = ""
	return strings.TrimRight(u.String(), "/")
}

func (c *httpClient) Encrypt(ctx context.Context, value string) (string, error) {
	q := url.Values{}
	q.Set("componentId", c.settings.ComponentID)
	if c.settings.ProjectID != "" {
		q.Set("projectId", c.settings.ProjectID)
	}
	if c.settings.ConfigID != "" {
		q.Set("configId", c.settings.ConfigID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.encryptionURL+"/encrypt?"+q.Encode(), strings.NewReader(value))
	if err != nil {
		return "", eris.Wrap(err, "keboola: create encrypt request")
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "text/plain")

	body, err := c.do(req)
	if err != nil {
		return "", eris.Wrap(err, "keboola: encrypt")
	}
	cipher := strings.TrimSpace(string(body))
	if cipher == "" {
		return "", eris.New("keboola: encrypt returned an empty value")
	}
	return cipher, nil
}

// configState is the configuration state document. Only the component
// section is written.
type configState struct {
	Component model.TokenState `json:"component"`
}

func (c *httpClient) UpdateConfigState(ctx context.Context, state model.TokenState) error {
	doc, err := json.Marshal(configState{Component: state})
	if err != nil {
		return eris.Wrap(err, "keboola: marshal state")
	}

	branch := c.settings.BranchID
	if branch == "" {
		branch = "default"
	}
	endpoint := fmt.Sprintf("%s/v2/storage/branch/%s/components/%s/configs/%s/state",
		c.storageURL, url.PathEscape(branch), url.PathEscape(c.settings.ComponentID), url.PathEscape(c.settings.ConfigID))

	form := url.Values{}
	form.Set("state", string(doc))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "keboola: create state request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-StorageApi-Token", c.settings.Token)

	if _, err := c.do(req); err != nil {
		return eris.Wrap(err, "keboola: update config state")
	}
	return nil
}

// do sends req and returns the body of a 2xx response. Retryable statuses
// are returned as resilience.TransientError.
func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, resilience.StatusError(
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}
	return body, nil
}
