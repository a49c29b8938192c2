package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/bbeesley/temperature-logger/internal/telemetry"
)

// rewriteHost sends every request to target while keeping the original Host.
type rewriteHost struct {
	target *url.URL
	next   http.RoundTripper
}

func (rt rewriteHost) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	return rt.next.RoundTrip(out)
}

type captured struct {
	method string
	host   string
	path   string
	header http.Header
	body   []byte
}

func newIngest(t *testing.T, status int, respBody string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.method = r.Method
		c.host = r.Host
		c.path = r.URL.Path
		c.header = r.Header.Clone()
		c.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func clientFor(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	base := srv.Client()
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: rewriteHost{target: target, next: base.Transport},
	}
}

func sampleMeasurement(t *testing.T) telemetry.Measurement {
	t.Helper()
	m, err := telemetry.BuildMeasurement("dev1",
		telemetry.Environment{Temperature: 21.5, Humidity: 40.0, Pressure: 1013.2}, 87, true)
	if err != nil {
		t.Fatalf("BuildMeasurement: %v", err)
	}
	return m
}

func TestHTTPS_Submit(t *testing.T) {
	srv, got := newIngest(t, http.StatusOK, `{"status":"ok"}`)
	r, err := NewHTTPS(telemetry.Identity{LoggerID: "dev1", APIKey: "K", Endpoint: "https://example.test/m"}, clientFor(t, srv))
	if err != nil {
		t.Fatalf("NewHTTPS: %v", err)
	}

	status, err := r.Submit(context.Background(), sampleMeasurement(t))
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}

	if got.method != http.MethodPost {
		t.Errorf("method = %s, want POST", got.method)
	}
	if got.host != "example.test" || got.path != "/m" {
		t.Errorf("request target = %s%s, want example.test/m", got.host, got.path)
	}
	if k := got.header.Get("x-api-key"); k != "K" {
		t.Errorf("x-api-key = %q, want K", k)
	}
	if ct := got.header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	const wantBody = `{"temperature":21.5,"humidity":40,"pressure":1013.2,"logger":"dev1","charge":87}`
	if string(got.body) != wantBody {
		t.Errorf("body = %s, want %s", got.body, wantBody)
	}

	var fields map[string]any
	if err := json.Unmarshal(got.body, &fields); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	want := map[string]any{"temperature": 21.5, "humidity": 40.0, "pressure": 1013.2, "logger": "dev1", "charge": 87.0}
	if len(fields) != len(want) {
		t.Fatalf("body keys = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, fields[k], v)
		}
	}
}

func TestHTTPS_SubmitFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"missing api key"}`},
		{name: "not json", status: http.StatusOK, body: `<html>`},
		{name: "no status", status: http.StatusOK, body: `{"message":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newIngest(t, tt.status, tt.body)
			r, err := NewHTTPS(telemetry.Identity{APIKey: "K", Endpoint: srv.URL}, srv.Client())
			if err != nil {
				t.Fatalf("NewHTTPS: %v", err)
			}
			_, err = r.Submit(context.Background(), sampleMeasurement(t))
			var te *telemetry.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Submit() error = %v, want TransportError", err)
			}
		})
	}
}

func TestHTTPS_FailedStatusIsReturned(t *testing.T) {
	srv, _ := newIngest(t, http.StatusOK, `{"status":"failed","message":"disk full"}`)
	r, err := NewHTTPS(telemetry.Identity{APIKey: "K", Endpoint: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPS: %v", err)
	}
	status, err := r.Submit(context.Background(), sampleMeasurement(t))
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}

func TestHTTPS_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	r, err := NewHTTPS(telemetry.Identity{APIKey: "K", Endpoint: endpoint}, NewHTTPClient(time.Second))
	if err != nil {
		t.Fatalf("NewHTTPS: %v", err)
	}
	_, err = r.Submit(context.Background(), sampleMeasurement(t))
	var te *telemetry.TransportError
	if !errors.As(err, &te) || te.Op != "post" {
		t.Fatalf("Submit() error = %v, want post TransportError", err)
	}
}

func TestNewHTTPS_Validation(t *testing.T) {
	if _, err := NewHTTPS(telemetry.Identity{APIKey: "K"}, nil); err == nil {
		t.Error("missing endpoint: error = nil, want non-nil")
	}
	if _, err := NewHTTPS(telemetry.Identity{Endpoint: "https://example.test/m"}, nil); err == nil {
		t.Error("missing key: error = nil, want non-nil")
	}
}
