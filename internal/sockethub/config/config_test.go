package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(context.Background(), Options{
		Values:   map[string]any{"PLATFORMS": []any{"dispatcher", "email"}},
		BasePath: dir,
		Env:      map[string]string{},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.NumWorkers)
	assert.False(t, cfg.Host.EnableTLS)
	assert.Equal(t, "", cfg.Host.TLSCertsDir)
	assert.Equal(t, 10550, cfg.Host.Port)
	assert.Equal(t, []string{"dispatcher", "email"}, cfg.Host.MyPlatforms)
	assert.Equal(t, 99, cfg.Host.SetUID)
	assert.True(t, cfg.Host.InitDispatcher)
	assert.True(t, cfg.Host.InitListener)

	assert.Equal(t, "localhost", cfg.Public.Domain)
	assert.Equal(t, 10550, cfg.Public.Port)
	assert.Equal(t, "/sockethub", cfg.Public.WebsocketPath)
	assert.False(t, cfg.Public.TLS)
	assert.Equal(t, "/examples", cfg.Public.ExamplesPath)

	assert.Equal(t, "127.0.0.1", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr())

	assert.False(t, cfg.Examples.Enable)
	assert.Equal(t, "1234567890", cfg.Examples.Secret)
	assert.Equal(t, filepath.Join(dir, "examples"), cfg.Examples.Directory)

	assert.True(t, cfg.Verbose)
	assert.NotEmpty(t, cfg.Session.InstanceID)
	assert.True(t, cfg.Session.InstanceIDGenerated)
	_, err = cfg.Session.SharedInstanceID()
	assert.ErrorIs(t, err, ErrInstanceIDRequired)
	assert.Equal(t, 15*time.Second, cfg.Session.GetKeyTimeout())
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.Equal(t, DefaultAdminListen, cfg.Admin.Listen)
	assert.Equal(t, "http://localhost:10550/sockethub", cfg.WebsocketURL())
}

func TestLoadConfiguredInstanceID(t *testing.T) {
	cfg, err := Load(context.Background(), Options{
		Values: map[string]any{
			"PLATFORMS": []any{"irc"},
			"SESSION":   map[string]any{"INSTANCE_ID": "sh0123456789"},
		},
		BasePath: t.TempDir(),
		Env:      map[string]string{},
	})
	require.NoError(t, err)
	assert.False(t, cfg.Session.InstanceIDGenerated)
	id, err := cfg.Session.SharedInstanceID()
	require.NoError(t, err)
	assert.Equal(t, "sh0123456789", id)
}

func TestLoadNoPlatforms(t *testing.T) {
	_, err := Load(context.Background(), Options{
		Values:   map[string]any{"PLATFORMS": []any{}},
		BasePath: t.TempDir(),
		Env:      map[string]string{},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPlatforms)

	_, err = Load(context.Background(), Options{
		Values:   map[string]any{"NUM_WORKERS": 2},
		BasePath: t.TempDir(),
		Env:      map[string]string{},
	})
	assert.ErrorIs(t, err, ErrNoPlatforms)
}

func TestLoadNoSource(t *testing.T) {
	_, err := Load(context.Background(), Options{BasePath: t.TempDir(), Env: map[string]string{}})
	assert.ErrorIs(t, err, ErrConfigLoad)
}

func TestLoadListenerDerivation(t *testing.T) {
	tests := []struct {
		name           string
		values         map[string]any
		wantDispatcher bool
		wantListener   bool
	}{
		{
			name:           "dispatcher only",
			values:         map[string]any{"PLATFORMS": []any{"dispatcher", "xmpp"}, "HOST": map[string]any{"MY_PLATFORMS": []any{"dispatcher"}}},
			wantDispatcher: true,
		},
		{
			name:         "worker only",
			values:       map[string]any{"PLATFORMS": []any{"dispatcher", "xmpp"}, "HOST": map[string]any{"MY_PLATFORMS": []any{"xmpp"}}},
			wantListener: true,
		},
		{
			name:           "zero workers",
			values:         map[string]any{"PLATFORMS": []any{"dispatcher", "xmpp"}, "NUM_WORKERS": 0},
			wantDispatcher: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(context.Background(), Options{Values: tt.values, BasePath: t.TempDir(), Env: map[string]string{}})
			require.NoError(t, err)
			assert.Equal(t, tt.wantDispatcher, cfg.Host.InitDispatcher)
			assert.Equal(t, tt.wantListener, cfg.Host.InitListener)
		})
	}
}

func TestLoadCmdlineAndEnvOverrides(t *testing.T) {
	values := map[string]any{
		"PLATFORMS": []any{"email"},
		"LOG_FILE":  "/var/log/sockethub.log",
		"REDIS":     map[string]any{"HOST": "redis.example", "PORT": 7000},
	}
	cfg, err := Load(context.Background(), Options{Values: values, BasePath: t.TempDir(), Env: map[string]string{}})
	require.NoError(t, err)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "redis.example:7000", cfg.Redis.Addr())

	cfg, err = Load(context.Background(), Options{
		Values:   values,
		BasePath: t.TempDir(),
		Cmdline:  Cmdline{Debug: true, Verbose: true, Info: true, RedisHost: "10.0.0.5", RedisPort: 6380},
		Env:      map[string]string{},
	})
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.ShowInfo)
	assert.Equal(t, "10.0.0.5:6380", cfg.Redis.Addr())

	cfg, err = Load(context.Background(), Options{
		Values:   values,
		BasePath: t.TempDir(),
		Env:      map[string]string{"SOCKETHUB_REDIS_HOST": "envhost", "SOCKETHUB_REDIS_PORT": "6390", "SOCKETHUB_INSTANCE_ID": "shared"},
	})
	require.NoError(t, err)
	assert.Equal(t, "envhost:6390", cfg.Redis.Addr())
	assert.Equal(t, "shared", cfg.Session.InstanceID)

	// caller's map is not modified
	_, ok := values["SECRETS"]
	assert.False(t, ok)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
PLATFORMS = ["dispatcher", "email", "xmpp"]
NUM_WORKERS = 3

[HOST]
PORT = 10600
MY_PLATFORMS = ["dispatcher"]
ENABLE_TLS = true

[SESSION]
INSTANCE_ID = "test1"
KEY_TIMEOUT = "5s"

[STORE]
BACKEND = "memory"
`)
	cfg, err := Load(context.Background(), Options{ConfigFile: path, BasePath: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, 3, cfg.NumWorkers)
	assert.Equal(t, 10600, cfg.Host.Port)
	assert.Equal(t, 10600, cfg.Public.Port)
	assert.True(t, cfg.Public.TLS)
	assert.Equal(t, "https://localhost:10600/sockethub", cfg.WebsocketURL())
	assert.Equal(t, "test1", cfg.Session.InstanceID)
	assert.Equal(t, 5*time.Second, cfg.Session.GetKeyTimeout())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.True(t, cfg.IsLocal("dispatcher"))
	assert.False(t, cfg.IsLocal("email"))
}

func TestLoadYAMLRelativeToBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
PLATFORMS: [dispatcher, irc]
REDIS:
  HOST: cache
  PORT: 6381
EXAMPLES:
  ENABLE: true
  DIRECTORY: /srv/examples
`)
	cfg, err := Load(context.Background(), Options{ConfigFile: "config.yaml", BasePath: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "cache:6381", cfg.Redis.Addr())
	assert.True(t, cfg.Examples.Enable)
	assert.Equal(t, "/srv/examples", cfg.Examples.Directory)
}

func TestLoadJSConfigWithSecrets(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.js", `
exports.config = {
  PLATFORMS: ['dispatcher', 'facebook'],
  LOG_FILE: false,
  SESSION: { INSTANCE_ID: 'js1' }
};
`)
	secPath := writeFile(t, dir, "config.secrets.js", `
module.exports = { ENC_KEY: '5678abcd', EXAMPLES: { SECRET: 'x' } };
`)
	cfg, err := Load(context.Background(), Options{ConfigFile: cfgPath, SecretsFile: secPath, BasePath: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"dispatcher", "facebook"}, cfg.Platforms)
	assert.Equal(t, "", cfg.LogFile)
	assert.Equal(t, "js1", cfg.Session.InstanceID)
	assert.Equal(t, "5678abcd", cfg.Session.EncKey)
	assert.Equal(t, secPath, cfg.SecretsFile)
	assert.Equal(t, "5678abcd", cfg.Secrets["ENC_KEY"])
}

func TestLoadDotenvSecrets(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.json", `{"PLATFORMS":["dispatcher"],"SESSION":{"INSTANCE_ID":"j1"}}`)
	secPath := writeFile(t, dir, "secrets.env", "ENC_KEY=abcdef0123\nOTHER=1\n")
	cfg, err := Load(context.Background(), Options{ConfigFile: cfgPath, SecretsFile: secPath, BasePath: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123", cfg.Session.EncKey)
	assert.Equal(t, "1", cfg.Secrets["OTHER"])
}

func TestLoadAdminTokenSecret(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.json", `{"PLATFORMS":["dispatcher"],"SESSION":{"INSTANCE_ID":"j1"}}`)
	secPath := writeFile(t, dir, "secrets.env", "ADMIN_TOKEN_SECRET=from-secrets-file-0001\n")

	cfg, err := Load(context.Background(), Options{ConfigFile: cfgPath, SecretsFile: secPath, BasePath: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "from-secrets-file-0001", cfg.Admin.TokenSecret)

	cfg, err = Load(context.Background(), Options{
		ConfigFile:  cfgPath,
		SecretsFile: secPath,
		BasePath:    dir,
		Env:         map[string]string{"SOCKETHUB_ADMIN_TOKEN_SECRET": "from-environment-0002"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-environment-0002", cfg.Admin.TokenSecret)

	cfg, err = Load(context.Background(), Options{ConfigFile: cfgPath, BasePath: dir, Env: map[string]string{}})
	require.NoError(t, err)
	assert.Empty(t, cfg.Admin.TokenSecret)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		wantErr error
	}{
		{"missing file", "", "", ErrConfigLoad},
		{"bad toml", "bad.toml", "PLATFORMS = [", ErrConfigLoad},
		{"unknown ext", "config.ini", "PLATFORMS=x", ErrConfigLoad},
		{"bad port", "port.json", `{"PLATFORMS":["a"],"HOST":{"PORT":70000}}`, ErrInvalidConfig},
		{"bad platform name", "name.json", `{"PLATFORMS":["Bad Name"]}`, ErrInvalidConfig},
		{"foreign local platform", "local.json", `{"PLATFORMS":["a"],"HOST":{"MY_PLATFORMS":["b"]}}`, ErrInvalidConfig},
		{"postgres without dsn", "pg.json", `{"PLATFORMS":["a"],"STORE":{"BACKEND":"postgres"}}`, ErrInvalidConfig},
		{"bad backend", "be.json", `{"PLATFORMS":["a"],"STORE":{"BACKEND":"etcd"}}`, ErrInvalidConfig},
		{"bad timeout", "kt.json", `{"PLATFORMS":["a"],"SESSION":{"KEY_TIMEOUT":"soon"}}`, ErrInvalidConfig},
		{"bad instance id", "iid.json", `{"PLATFORMS":["a"],"SESSION":{"INSTANCE_ID":"a:b"}}`, ErrInvalidConfig},
		{"short admin secret", "adm.json", `{"PLATFORMS":["a"],"ADMIN":{"TOKEN_SECRET":"short"}}`, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "does-not-exist.toml")
			if tt.file != "" {
				path = writeFile(t, dir, tt.file, tt.content)
			}
			_, err := Load(context.Background(), Options{ConfigFile: path, BasePath: dir, Env: map[string]string{}})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSummary(t *testing.T) {
	color.NoColor = true
	cfg, err := Load(context.Background(), Options{
		Values: map[string]any{
			"PLATFORMS": []any{"dispatcher", "email"},
			"EXAMPLES":  map[string]any{"ENABLE": true},
			"SESSION":   map[string]any{"INSTANCE_ID": "sum1"},
		},
		Version:  "1.2.3",
		BasePath: "/opt/sockethub",
		Env:      map[string]string{},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	cfg.Summary(&buf)
	out := buf.String()
	assert.Contains(t, out, "Sockethub version 1.2.3")
	assert.Contains(t, out, "/opt/sockethub/")
	assert.Contains(t, out, `["dispatcher" "email"]`)
	assert.Contains(t, out, "http://localhost:10550/sockethub")
	assert.Contains(t, out, "http://localhost:10550/examples")
	assert.Contains(t, out, "127.0.0.1:6379")
	assert.Contains(t, out, "sum1")
}
