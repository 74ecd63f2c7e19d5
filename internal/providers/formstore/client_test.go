package formstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestFetchSubmissionRelaysBody(t *testing.T) {
	const body = `{"responseCode":200,"content":{"id":"12345","answers":{"5":{"answer":"<p>hi</p>"}}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/submission/12345") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("apiKey") != "secret" {
			t.Errorf("missing apiKey query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := client.FetchSubmission(context.Background(), "12345")
	if err != nil {
		t.Fatalf("FetchSubmission: %v", err)
	}
	if string(raw) != body {
		t.Fatalf("body not relayed verbatim: %s", raw)
	}
}

func TestFetchSubmissionUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"responseCode":401,"message":"invalid key"}`))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.FetchSubmission(context.Background(), "12345")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusUnauthorized {
		t.Fatalf("status mismatch: %d", ue.Status)
	}
	if ue.Payload == nil {
		t.Fatal("expected upstream payload to be preserved")
	}
}

func TestFetchSubmissionPlatformLevelFailure(t *testing.T) {
	// HTTP 200 but the platform envelope reports failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"responseCode":404,"message":"not found"}`))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.FetchSubmission(context.Background(), "nope")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusOK {
		t.Fatalf("status mismatch: %d", ue.Status)
	}
}

func TestFetchSubmissionMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	client, err := New(Options{APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.FetchSubmission(context.Background(), "12345")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Payload != nil {
		t.Fatalf("unparsable body must not be relayed as payload: %s", ue.Payload)
	}
}

func TestFetchSubmissionNetworkFailure(t *testing.T) {
	client, err := New(Options{APIKey: "secret", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = client.FetchSubmission(context.Background(), "12345")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Status != 0 {
		t.Fatalf("transport failures carry status 0, got %d", ue.Status)
	}
}
