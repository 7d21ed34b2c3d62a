package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Configurator supplies the server URL and bearer token for a client.
type Configurator interface {
	GetServerURL() string
	GetToken() string
}

// ErrInvalidPath is returned for request paths with "." or ".." segments.
var ErrInvalidPath = errors.New("request path must not contain dot segments")

// HTTPError is returned for responses outside the 2xx range.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// HTTPClient issues authenticated requests relative to the configured URL.
type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
}

// ClientOptions configure the underlying http.Client.
type ClientOptions struct {
	Timeout               time.Duration
	DisableCertValidation bool
	Transport             http.RoundTripper
}

const defaultTimeout = 30 * time.Second

// NewClient creates a client for config.
func NewClient(config Configurator, opts ...ClientOptions) *HTTPClient {
	var o ClientOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: o.Timeout}
	switch {
	case o.Transport != nil:
		httpClient.Transport = o.Transport
	case o.DisableCertValidation:
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &HTTPClient{
		config:     config,
		httpClient: httpClient,
	}
}

// RequestOptions describe one request. Path is joined onto the server URL.
type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        []byte
	ContentType string
}

// Response is a fully read response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ContentType returns the media type of the response without parameters.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ResolveURL appends p to the configured server URL. Each segment of p is
// escaped on its own and a trailing slash is kept, since remote stores use
// it to address folders. Paths with dot segments are refused with
// ErrInvalidPath so a request can never leave the server URL's tree.
func (c *HTTPClient) ResolveURL(p string, query map[string]string) (string, error) {
	u, err := url.Parse(c.config.GetServerURL())
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server URL: %q", c.config.GetServerURL())
	}
	segments, escaped, err := splitPath(p)
	if err != nil {
		return "", err
	}
	if len(segments) > 0 {
		basePath := strings.TrimSuffix(u.Path, "/")
		baseRaw := strings.TrimSuffix(u.EscapedPath(), "/")
		u.Path = basePath + "/" + strings.Join(segments, "/")
		u.RawPath = baseRaw + "/" + strings.Join(escaped, "/")
		if strings.HasSuffix(p, "/") {
			u.Path += "/"
			u.RawPath += "/"
		}
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// splitPath returns the non-empty segments of p, raw and escaped.
func splitPath(p string) ([]string, []string, error) {
	var segments, escaped []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
		segments = append(segments, seg)
		escaped = append(escaped, url.PathEscape(seg))
	}
	return segments, escaped, nil
}

// DoRequest sends the request with an Authorization: Bearer header when a
// token is configured. The body of a non-2xx response becomes the HTTPError
// message; a JSON body's "error" field is preferred when present.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) (*Response, error) {
	target, err := c.ResolveURL(opts.Path, opts.QueryParams)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if opts.Body != nil {
		ct := opts.ContentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	if token := c.config.GetToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if gjson.ValidBytes(respBody) {
			if e := gjson.GetBytes(respBody, "error"); e.Exists() && e.String() != "" {
				msg = e.String()
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return &Response{
		URL:        target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// Get is DoRequest with GET and no body.
func (c *HTTPClient) Get(ctx context.Context, p string) (*Response, error) {
	return c.DoRequest(ctx, RequestOptions{Method: http.MethodGet, Path: p})
}
