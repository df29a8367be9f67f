// Package httpx is the thin HTTP plumbing under the portal client: non-2xx
// errors that carry status and body, full-body drains so connections get
// reused, and transparent decoding of compressed responses (the webvpn
// gateway answers with Content-Encoding: br when offered).
//
// There is deliberately no retry machinery here. The login loop owns its
// attempt budget and the sync engine decides what is worth refetching.
package httpx

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is offered on every request unless the caller set its own.
const acceptEncoding = "gzip, br"

// HTTPError carries status/body for non-2xx responses.
// It lets callers decide if/when to retry.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %s %s status=%d body=%s", e.Method, e.URL, e.StatusCode, Snippet(e.Body, 900))
}

// Snippet trims a body for log/error output.
func Snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// Do executes a single request and returns the decoded response body.
// The body is always read in full (even on error) so the underlying TCP
// connection can be reused by http.Transport. Non-2xx becomes *HTTPError.
func Do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, nil, err
	}

	body, err := readAndClose(resp)
	if err != nil {
		return resp, body, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, body, nil
	}
	return resp, body, &HTTPError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}
}

// DoJSON is a convenience wrapper over Do that unmarshals JSON.
func DoJSON(ctx context.Context, client *http.Client, req *http.Request, out any) error {
	_, body, err := Do(ctx, client, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("json parse error: %w body=%s", err, Snippet(body, 900))
	}
	return nil
}

// readAndClose drains the body, undoing any Content-Encoding we offered.
// Since we set Accept-Encoding ourselves, net/http leaves the body encoded.
func readAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}
