package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourks/sockethub/internal/common/httpclient"
	"github.com/fourks/sockethub/internal/sockethub/store"
)

const (
	testInstanceID = "1234567890"
	testEncKey     = "5678abcd"
	testSid        = "test-sid"
)

func newTestManager(t *testing.T, shared store.SharedStore, platform, encKey string) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		InstanceID: testInstanceID,
		Platform:   platform,
		EncKey:     encKey,
		Store:      shared,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func keyExists(t *testing.T, shared store.SharedStore, sid string) bool {
	t.Helper()
	ok, err := shared.Exists(context.Background(), store.SessionKey(testInstanceID, sid))
	require.NoError(t, err)
	return ok
}

func TestNewManagerRequiresKeyForDispatcher(t *testing.T) {
	_, err := NewManager(Options{InstanceID: testInstanceID, Platform: DispatcherPlatform, Store: store.NewMemory()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingEncryptionKey)

	m, err := NewManager(Options{InstanceID: testInstanceID, Platform: "irc", Store: store.NewMemory()})
	require.NoError(t, err)
	assert.False(t, m.EncKeySet())

	_, err = NewManager(Options{InstanceID: "bad:id", Platform: "irc", Store: store.NewMemory()})
	assert.Error(t, err)
	_, err = NewManager(Options{InstanceID: testInstanceID, Platform: "irc"})
	assert.Error(t, err)
}

func TestManagerIdentity(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)

	s1, err := m.Get(ctx, "sid1", true)
	require.NoError(t, err)
	same, err := m.Get(ctx, "sid1", true)
	require.NoError(t, err)
	assert.Same(t, s1, same)
	assert.Equal(t, "sid1", same.ID())

	s2, err := m.Get(ctx, "sid2", true)
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)

	assert.Equal(t, []string{"sid1", "sid2"}, m.Sessions())

	_, err = m.Get(ctx, "", true)
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestManagerDestroy(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemory()
	m := newTestManager(t, shared, "test", testEncKey)

	_, err := m.Get(ctx, "sid1", true)
	require.NoError(t, err)
	s2, err := m.Get(ctx, "sid2", true)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, "sid1"))
	_, err = m.Get(ctx, "sid1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.False(t, keyExists(t, shared, "sid1"))

	same2, err := m.Get(ctx, "sid2", true)
	require.NoError(t, err)
	assert.Same(t, s2, same2)

	// unknown ids are not an error
	assert.NoError(t, m.Destroy(ctx, "never-existed"))
}

func TestGetPersistsNewSession(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemory()
	m := newTestManager(t, shared, "test", testEncKey)

	_, err := m.Get(ctx, testSid, false)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Get(ctx, testSid, true)
	require.NoError(t, err)
	assert.True(t, keyExists(t, shared, testSid))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	assert.False(t, s.IsRegistered())
	require.NoError(t, s.Register(ctx, "1234567890"))
	assert.True(t, s.IsRegistered())
	assert.Equal(t, "1234567890", s.Token())

	require.NoError(t, s.Unregister(ctx))
	assert.False(t, s.IsRegistered())
	assert.Empty(t, s.Token())
}

func TestSetConfig(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	require.NoError(t, s.SetConfig(ctx, "test", "testkey", map[string]any{"foo": "bar"}))
	assert.Equal(t, map[string]any{"foo": "bar"}, s.GetConfig("test", "testkey"))

	assert.Equal(t, map[string]any{}, s.GetConfig("test", "absent"))
	assert.Equal(t, map[string]any{}, s.GetConfig("absent", "testkey"))

	assert.ErrorIs(t, s.SetConfig(ctx, "", "k", 1), ErrInvalidConfig)
	assert.ErrorIs(t, s.SetConfig(ctx, "test", "k", make(chan int)), ErrInvalidConfig)
}

func TestSetConfigComplexObjects(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	t2 := map[string]any{"hello": "world2", "sub2": "hithere", "sub": map[string]any{"one": "blah", "five": "yaya", "three": map[string]any{"also": "this also"}}}
	t3 := map[string]any{"hello": "world2", "sub": map[string]any{"one": "blah", "two": "blah", "three": map[string]any{"well": "this too", "also": "this also"}, "five": "yaya"}, "sub2": "hithere"}

	require.NoError(t, s.SetConfig(ctx, "test", "test3", t3))
	require.NoError(t, s.SetConfig(ctx, "test", "test2", t2))
	assert.Equal(t, t3, s.GetConfig("test", "test3"))
	assert.Equal(t, t2, s.GetConfig("test", "test2"))
}

func TestSetConfigDeepMergesSameKey(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	v1 := map[string]any{"hello": "world2", "sub": map[string]any{"one": "blah", "five": "yaya", "three": map[string]any{"also": "this"}}}
	v2 := map[string]any{"sub": map[string]any{"two": "blah", "three": map[string]any{"well": "this too"}}}

	require.NoError(t, s.SetConfig(ctx, "test", "merged", v1))
	require.NoError(t, s.SetConfig(ctx, "test", "merged", v2))

	assert.Equal(t, map[string]any{
		"hello": "world2",
		"sub": map[string]any{
			"one":   "blah",
			"two":   "blah",
			"five":  "yaya",
			"three": map[string]any{"well": "this too", "also": "this"},
		},
	}, s.GetConfig("test", "merged"))

	require.NoError(t, s.SetConfig(ctx, "test", "merged", "flat"))
	assert.Equal(t, "flat", s.GetConfig("test", "merged"))
}

func TestGetConfigReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	require.NoError(t, s.SetConfig(ctx, "test", "k", map[string]any{"a": "b"}))
	cfg := s.GetConfig("test", "k").(map[string]any)
	cfg["a"] = "mutated"
	assert.Equal(t, map[string]any{"a": "b"}, s.GetConfig("test", "k"))
}

func TestPlatformSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	myConfig := map[string]any{"foo": "bar", "obj": map[string]any{"data": "cat"}, "refrigerator": true}
	ps := s.PlatformSession("test")
	require.NoError(t, ps.SetConfig(ctx, "testcfg", "testkey", myConfig))
	assert.Equal(t, myConfig, ps.GetConfig("testcfg", "testkey"))
	assert.Equal(t, testSid, ps.SessionID())
	assert.Equal(t, "test", ps.Platform())

	// platforms never see each other's config
	other := s.PlatformSession("other")
	assert.Equal(t, map[string]any{}, other.GetConfig("testcfg", "testkey"))
	require.NoError(t, other.SetConfig(ctx, "testcfg", "testkey", map[string]any{"foo": "baz"}))
	assert.Equal(t, myConfig, ps.GetConfig("testcfg", "testkey"))
	assert.Equal(t, map[string]any{}, s.GetConfig("testcfg", "testkey"))

	ps.Log("log %d", 1)
	ps.Info("info")
	ps.Error("error")
	ps.Debug("debug")
	ps.Warn("warn")
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	require.NoError(t, s.SetConfig(ctx, "yarg", "testkey", map[string]any{"foo": "bar"}))
	require.NoError(t, s.Register(ctx, "token"))
	require.NoError(t, s.Cleanup(ctx))

	assert.Equal(t, map[string]any{}, s.GetConfig("yarg", "testkey"))
	assert.False(t, s.IsRegistered())

	// cleanup is idempotent
	require.NoError(t, s.Cleanup(ctx))
}

func TestCleanupSessions(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemory()
	m := newTestManager(t, shared, "test", testEncKey)

	s, err := m.Get(ctx, "0921", true)
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(ctx, "ns", "k", map[string]any{"a": 1}))
	_, err = m.Get(ctx, "keep", true)
	require.NoError(t, err)

	cleaned := m.CleanupSessions(ctx, []string{"0921", "82712", "12345"})
	assert.Equal(t, []string{"0921"}, cleaned)
	assert.Equal(t, map[string]any{}, s.GetConfig("ns", "k"))
	assert.Equal(t, []string{"keep"}, m.Sessions())

	assert.False(t, keyExists(t, shared, "0921"))

	assert.Empty(t, m.CleanupSessions(ctx, []string{"0921"}))
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	shared, err := store.NewRedis(ctx, store.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer shared.Close()

	m1 := newTestManager(t, shared, "test", testEncKey)
	s, err := m1.Get(ctx, testSid, true)
	require.NoError(t, err)
	require.NoError(t, s.Register(ctx, "secret-token"))
	require.NoError(t, s.SetConfig(ctx, "ns", "k", map[string]any{"n": 1}))

	stored, err := mr.Get(store.SessionKey(testInstanceID, testSid))
	require.NoError(t, err)
	assert.NotContains(t, stored, "secret-token")
	assert.Contains(t, stored, `"registered":true`)

	// a restarted process with the key reads the sealed state back
	m2 := newTestManager(t, shared, "test", testEncKey)
	s2, err := m2.Get(ctx, testSid, false)
	require.NoError(t, err)
	assert.True(t, s2.IsRegistered())
	assert.Equal(t, "secret-token", s2.Token())
	assert.Equal(t, map[string]any{"n": float64(1)}, s2.GetConfig("ns", "k"))

	// a worker without the key cannot read sealed state
	m3 := newTestManager(t, shared, "worker", "")
	_, err = m3.Get(ctx, testSid, false)
	assert.ErrorIs(t, err, ErrMissingEncryptionKey)

	// but empty sessions need no key
	_, err = m3.Get(ctx, "fresh", true)
	require.NoError(t, err)
	fresh, err := m3.Get(ctx, "fresh", false)
	require.NoError(t, err)
	assert.ErrorIs(t, fresh.SetConfig(ctx, "ns", "k", 1), ErrMissingEncryptionKey)
	assert.Equal(t, map[string]any{}, fresh.GetConfig("ns", "k"))
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	shared, err := store.NewRedis(ctx, store.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer shared.Close()

	m := newTestManager(t, shared, "test", testEncKey)
	mr.Close()
	_, err = m.Get(ctx, testSid, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestConcurrentSetConfig(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			assert.NoError(t, s.SetConfig(ctx, "ns", "shared", map[string]any{k: true}))
		}(k)
	}
	wg.Wait()

	cfg := s.GetConfig("ns", "shared").(map[string]any)
	assert.Len(t, cfg, len(keys))
}

type capturedRequest struct {
	path          string
	authorization string
}

type storageServer struct {
	mu          sync.Mutex
	captured    []capturedRequest
	contentType string
	body        string
	status      int
}

func (ss *storageServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.captured = append(ss.captured, capturedRequest{path: r.URL.Path, authorization: r.Header.Get("Authorization")})
	if ss.contentType != "" {
		w.Header().Set("Content-Type", ss.contentType)
	}
	w.WriteHeader(ss.status)
	w.Write([]byte(ss.body))
}

func (ss *storageServer) requests() []capturedRequest {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]capturedRequest(nil), ss.captured...)
}

func setupRemoteStorage(t *testing.T) (*Session, *storageServer) {
	t.Helper()
	ctx := context.Background()
	srv := &storageServer{contentType: "text/plain", body: "Hello World", status: http.StatusOK}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(ctx, RemoteStorageNamespace, RemoteStorageKey, map[string]any{
		"storageInfo": map[string]any{
			"href": ts.URL + "/storage",
			"type": "https://www.w3.org/community/rww/wiki/read-write-web-00#simple",
		},
		"bearerToken": "test-token",
		"scope":       map[string]any{"": "rw"},
	}))
	return s, srv
}

func TestGetFile(t *testing.T) {
	ctx := context.Background()

	t.Run("sends one request", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		_, err := s.GetFile(ctx, "", "foo/bar")
		require.NoError(t, err)
		assert.Len(t, srv.requests(), 1)
	})

	t.Run("builds the path from storage root, module and path", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		_, err := s.GetFile(ctx, "", "foo/bar")
		require.NoError(t, err)
		assert.Equal(t, "/storage/foo/bar", srv.requests()[0].path)

		_, err = s.GetFile(ctx, "notes", "foo/bar")
		require.NoError(t, err)
		assert.Equal(t, "/storage/notes/foo/bar", srv.requests()[1].path)
	})

	t.Run("keeps the trailing slash of a folder", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		_, err := s.GetFile(ctx, "", "notes/")
		require.NoError(t, err)
		_, err = s.GetFile(ctx, "notes/", "/sub/")
		require.NoError(t, err)
		assert.Equal(t, "/storage/notes/", srv.requests()[0].path)
		assert.Equal(t, "/storage/notes/sub/", srv.requests()[1].path)
	})

	t.Run("refuses dot segments", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		for _, tc := range [][2]string{
			{"", "../../admin/secret"},
			{"..", "secret"},
			{"notes", "a/./b"},
		} {
			_, err := s.GetFile(ctx, tc[0], tc[1])
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRemotePath)
		}
		assert.Empty(t, srv.requests())
	})

	t.Run("sets the bearer token", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		_, err := s.GetFile(ctx, "", "phu/quoc")
		require.NoError(t, err)
		assert.Equal(t, "Bearer test-token", srv.requests()[0].authorization)
	})

	t.Run("yields body and mime type", func(t *testing.T) {
		s, _ := setupRemoteStorage(t)
		file, err := s.GetFile(ctx, "", "foo/bar")
		require.NoError(t, err)
		assert.Equal(t, "text/plain", file.MimeType)
		assert.Equal(t, "Hello World", file.Data)
		assert.Contains(t, file.Source, "/storage/foo/bar")
	})

	t.Run("unpacks JSON", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		srv.contentType = "application/json"
		srv.body = `{"phu":"quoc"}`
		file, err := s.GetFile(ctx, "", "foo/baz")
		require.NoError(t, err)
		assert.Equal(t, "application/json", file.MimeType)
		assert.Equal(t, map[string]any{"phu": "quoc"}, file.Data)
	})

	t.Run("sniffs binary content", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		srv.contentType = ""
		srv.body = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
		file, err := s.GetFile(ctx, "", "img.png")
		require.NoError(t, err)
		assert.Equal(t, "image/png", file.MimeType)
		assert.IsType(t, []byte{}, file.Data)
	})

	t.Run("non-2xx fails", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		srv.status = http.StatusUnauthorized
		srv.body = "denied"
		_, err := s.GetFile(ctx, "", "foo/bar")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRemoteFetchFailed)
		assert.Len(t, srv.requests(), 1)
	})

	t.Run("platform session uses the session storage", func(t *testing.T) {
		s, srv := setupRemoteStorage(t)
		file, err := s.PlatformSession("test").GetFile(ctx, "", "foo/bar")
		require.NoError(t, err)
		assert.Equal(t, "Hello World", file.Data)
		assert.Len(t, srv.requests(), 1)
	})
}

type recordingClient struct {
	server string
	paths  []string
}

func (c *recordingClient) DoRequest(ctx context.Context, opts httpclient.RequestOptions) (*httpclient.Response, error) {
	c.paths = append(c.paths, opts.Path)
	return &httpclient.Response{
		URL:        c.server + "/" + opts.Path,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/ld+json"}},
		Body:       []byte(`{"@id":"x"}`),
	}, nil
}

func (c *recordingClient) Get(ctx context.Context, path string) (*httpclient.Response, error) {
	return c.DoRequest(ctx, httpclient.RequestOptions{Method: http.MethodGet, Path: path})
}

func TestGetFileUsesClientFactory(t *testing.T) {
	ctx := context.Background()
	client := &recordingClient{}
	m, err := NewManager(Options{
		InstanceID: testInstanceID,
		Platform:   "test",
		EncKey:     testEncKey,
		Store:      store.NewMemory(),
		HTTPClient: func(cfg httpclient.Configurator) httpclient.HTTPClientInterface {
			assert.Equal(t, "tok", cfg.GetToken())
			client.server = cfg.GetServerURL()
			return client
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(ctx, RemoteStorageNamespace, RemoteStorageKey, map[string]any{
		"storageInfo": map[string]any{"href": "https://storage.example.com/alice"},
		"bearerToken": "tok",
	}))

	file, err := s.GetFile(ctx, "contacts", "card.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"contacts/card.json"}, client.paths)
	assert.Equal(t, "https://storage.example.com/alice/contacts/card.json", file.Source)
	assert.Equal(t, map[string]any{"@id": "x"}, file.Data)
}

func TestGetFileWithoutRemoteStorage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMemory(), "test", testEncKey)
	s, err := m.Get(ctx, testSid, true)
	require.NoError(t, err)

	_, err = s.GetFile(ctx, "foo", "bar")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteStorageNotConfigured)

	require.NoError(t, s.SetConfig(ctx, RemoteStorageNamespace, RemoteStorageKey, map[string]any{"bearerToken": "t"}))
	_, err = s.GetFile(ctx, "foo", "bar")
	assert.ErrorIs(t, err, ErrRemoteStorageNotConfigured)
}
