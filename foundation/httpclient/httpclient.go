// Package httpclient provides basic http functions
package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTimeout is used by NewClient when no timeout is given
const DefaultTimeout = 10 * time.Second

// NewClient returns an http.Client with timeout, or DefaultTimeout if timeout is zero
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// StatusError is returned when a server responds with anything other than 200
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (429) requesting %s", e.URL)
	}
	return fmt.Sprintf("unexpected status %d requesting %s", e.StatusCode, e.URL)
}

// Get retrieves the body of rawURL with query parameters added. gzip bodies are decompressed
func Get(ctx context.Context, client *http.Client, rawURL string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		// don't leak the consumer key into logs
		return nil, &StatusError{URL: u.Scheme + "://" + u.Host + u.Path, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return Decompress(body)
}

// ReadSource reads a local file path or an http(s) url. gzip content is decompressed
func ReadSource(ctx context.Context, client *http.Client, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return Get(ctx, client, source, nil)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, err
	}
	return Decompress(data)
}

// Decompress returns data unchanged unless it starts with the gzip magic bytes
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip content: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	result, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading gzip content: %w", err)
	}
	return result, nil
}
