// Package report submits measurements to the collection side.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// APIKeyHeader carries the device API key on every submission.
const APIKeyHeader = "x-api-key"

const maxErrorBody = 512

// Response is the body returned by the ingest endpoint.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewHTTPClient returns the client shared by every submission of the process.
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2
	t.MaxIdleConnsPerHost = 1
	t.IdleConnTimeout = 90 * time.Second
	return &http.Client{Timeout: timeout, Transport: t}
}

// HTTPS posts measurements as JSON to a fixed endpoint.
type HTTPS struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewHTTPS(identity telemetry.Identity, client *http.Client) (*HTTPS, error) {
	if identity.Endpoint == "" {
		return nil, errors.New("report: endpoint is required")
	}
	if identity.APIKey == "" {
		return nil, errors.New("report: api key is required")
	}
	if client == nil {
		client = NewHTTPClient(15 * time.Second)
	}
	return &HTTPS{client: client, endpoint: identity.Endpoint, apiKey: identity.APIKey}, nil
}

// Submit posts m and returns the status string from the response body.
func (r *HTTPS) Submit(ctx context.Context, m telemetry.Measurement) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", telemetry.NewTransportError("encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", telemetry.NewTransportError("request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", telemetry.NewTransportError("post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", telemetry.NewTransportError("post",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", telemetry.NewTransportError("decode", err)
	}
	if out.Status == "" {
		return "", telemetry.NewTransportError("decode", errors.New("response has no status field"))
	}
	return out.Status, nil
}
