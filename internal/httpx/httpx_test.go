package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

// Mock HTTP RoundTripper for testing
type mockRoundTripper struct {
	responses []*http.Response
	errs      []error
	index     int
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.index >= len(m.responses) {
		return nil, errors.New("no more responses")
	}
	resp := m.responses[m.index]
	err := m.errs[m.index]
	m.index++
	return resp, err
}

func newMockClient(responses []*http.Response, errs []error) *http.Client {
	for len(errs) < len(responses) {
		errs = append(errs, nil)
	}
	return &http.Client{Transport: &mockRoundTripper{responses: responses, errs: errs}}
}

func newMockResponse(statusCode int, body []byte, headers map[string]string) *http.Response {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     header,
	}
}

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest("GET", "https://example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestDoSuccess(t *testing.T) {
	client := newMockClient([]*http.Response{newMockResponse(200, []byte(`{"ok":true}`), nil)}, nil)

	resp, body, err := Do(context.Background(), client, newRequest(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status code 200, got %d", resp.StatusCode)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("Expected body %q, got %q", `{"ok":true}`, string(body))
	}
}

func TestDoNon2xxReturnsHTTPError(t *testing.T) {
	client := newMockClient([]*http.Response{newMockResponse(502, []byte("bad gateway"), nil)}, nil)

	_, body, err := Do(context.Background(), client, newRequest(t))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("Expected *HTTPError, got %T", err)
	}
	if herr.StatusCode != 502 {
		t.Errorf("Expected status 502, got %d", herr.StatusCode)
	}
	// The body is still returned so callers can inspect it.
	if string(body) != "bad gateway" {
		t.Errorf("Expected body to be drained, got %q", string(body))
	}
}

func TestDoDecodesBrotli(t *testing.T) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write([]byte("compressed payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	client := newMockClient([]*http.Response{
		newMockResponse(200, buf.Bytes(), map[string]string{"Content-Encoding": "br"}),
	}, nil)

	_, body, err := Do(context.Background(), client, newRequest(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(body) != "compressed payload" {
		t.Errorf("Expected decoded body, got %q", string(body))
	}
}

func TestDoDecodesGzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte("gzipped payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	client := newMockClient([]*http.Response{
		newMockResponse(200, buf.Bytes(), map[string]string{"Content-Encoding": "gzip"}),
	}, nil)

	_, body, err := Do(context.Background(), client, newRequest(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(body) != "gzipped payload" {
		t.Errorf("Expected decoded body, got %q", string(body))
	}
}

func TestDoJSON(t *testing.T) {
	client := newMockClient([]*http.Response{newMockResponse(200, []byte(`{"name":"test","value":123}`), nil)}, nil)

	var result struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}
	if err := DoJSON(context.Background(), client, newRequest(t), &result); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Name != "test" || result.Value != 123 {
		t.Errorf("Expected {Name: 'test', Value: 123}, got %+v", result)
	}
}

func TestDoJSONInvalidJSON(t *testing.T) {
	client := newMockClient([]*http.Response{newMockResponse(200, []byte(`{invalid`), nil)}, nil)

	var out map[string]any
	err := DoJSON(context.Background(), client, newRequest(t), &out)
	if err == nil || !strings.Contains(err.Error(), "json parse error") {
		t.Errorf("Expected 'json parse error', got %v", err)
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet([]byte("  short  "), 900); got != "short" {
		t.Errorf("Expected trimmed snippet, got %q", got)
	}
	long := strings.Repeat("a", 1000)
	if got := Snippet([]byte(long), 10); len([]rune(got)) != 11 {
		t.Errorf("Expected truncated snippet with ellipsis, got %d chars", len([]rune(got)))
	}
}
