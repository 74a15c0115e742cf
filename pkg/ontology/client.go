// Package ontology is a read-only client for the ontology catalogue service.
// The extraction core depends only on the minimal list-of-summaries shape.
package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// EntitySummary is one existing-ontology entity.
type EntitySummary struct {
	URI        string `json:"uri"`
	Label      string `json:"label"`
	Definition string `json:"definition"`
}

// Client reads existing entities from the ontology catalogue.
type Client interface {
	GetEntitiesByCategory(ctx context.Context, category string) ([]EntitySummary, error)
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalogue client against the given base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GetEntitiesByCategory(ctx context.Context, category string) ([]EntitySummary, error) {
	endpoint := fmt.Sprintf("%s/api/entities?category=%s", c.baseURL, url.QueryEscape(category))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ontology: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "ontology: get entities %s", category)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, eris.Errorf("ontology: get entities %s: status %d: %s", category, resp.StatusCode, string(body))
	}

	var payload struct {
		Entities []EntitySummary `json:"entities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, eris.Wrap(err, "ontology: decode response")
	}
	return payload.Entities, nil
}
