package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourks/sockethub/internal/sockethub/session"
	"github.com/fourks/sockethub/internal/sockethub/store"
)

const (
	testInstanceID = "1234567890"
	testEncKey     = "5678abcd"
)

type testEnv struct {
	server *AdminServer
	store  *store.Memory
	mgrs   map[string]*session.Manager
}

func newTestEnv(t *testing.T, platforms ...string) *testEnv {
	t.Helper()
	shared := store.NewMemory()
	t.Cleanup(func() { shared.Close() })
	env := &testEnv{store: shared, mgrs: make(map[string]*session.Manager)}
	var managers []*session.Manager
	for _, p := range platforms {
		key := ""
		if p == session.DispatcherPlatform {
			key = testEncKey
		}
		m, err := session.NewManager(session.Options{
			InstanceID: testInstanceID,
			Platform:   p,
			EncKey:     key,
			Store:      shared,
		})
		require.NoError(t, err)
		t.Cleanup(func() { m.Close() })
		managers = append(managers, m)
		env.mgrs[p] = m
	}
	s, err := CreateNewServer(Options{Managers: managers, Store: shared})
	require.NoError(t, err)
	s.MountHandlers()
	env.server = s
	return env
}

func (env *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rr, req)
	return rr
}

func checkHeader(t *testing.T, h http.Header) {
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.NotEmpty(t, h.Get("X-Sockethub-Request-ID"), "no request id")
}
