package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig struct {
	url   string
	token string
}

func (s staticConfig) GetServerURL() string { return s.url }
func (s staticConfig) GetToken() string     { return s.token }

func TestGetSendsBearerToken(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Hello World"))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{url: srv.URL + "/storage", token: "test-token"})
	rsp, err := c.Get(context.Background(), "foo/bar")
	require.NoError(t, err)
	assert.Equal(t, "/storage/foo/bar", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "text/plain", rsp.ContentType())
	assert.Equal(t, "Hello World", string(rsp.Body))
	assert.Equal(t, srv.URL+"/storage/foo/bar", rsp.URL)
}

func TestGetWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(staticConfig{url: srv.URL})
	rsp, err := c.Get(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rsp.StatusCode)
}

func TestNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"scope does not cover path"}`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{url: srv.URL, token: "t"})
	_, err := c.Get(context.Background(), "private")
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "scope does not cover path", httpErr.Message)
}

func TestInvalidServerURL(t *testing.T) {
	c := NewClient(staticConfig{url: "not a url"})
	_, err := c.Get(context.Background(), "foo")
	assert.Error(t, err)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(staticConfig{url: url})
	_, err := c.Get(context.Background(), "foo")
	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestResolveURL(t *testing.T) {
	c := NewClient(staticConfig{url: "https://storage.example.com/storage/alice"})
	tests := []struct {
		name string
		path string
		want string
	}{
		{"file", "notes/today", "https://storage.example.com/storage/alice/notes/today"},
		{"folder keeps trailing slash", "notes/", "https://storage.example.com/storage/alice/notes/"},
		{"leading slash", "/notes/today", "https://storage.example.com/storage/alice/notes/today"},
		{"repeated slashes collapse", "notes//today", "https://storage.example.com/storage/alice/notes/today"},
		{"segments are escaped", "my notes/a?b#c", "https://storage.example.com/storage/alice/my%20notes/a%3Fb%23c"},
		{"empty path", "", "https://storage.example.com/storage/alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolveURL(tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, p := range []string{"../../admin/secret", "notes/../../x", "./notes", "notes/.."} {
		_, err := c.ResolveURL(p, nil)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestDotSegmentsNeverReachServer(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	c := NewClient(staticConfig{url: srv.URL + "/storage/alice", token: "test-token"})
	_, err := c.Get(context.Background(), "../../admin/secret")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.Zero(t, hits)
}
