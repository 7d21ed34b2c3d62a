// Package config resolves the sockethub runtime configuration from a config
// file, an optional secrets file, environment overrides and command-line
// flags, and fills in the documented defaults.
package config

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
)

const (
	DispatcherPlatform = "dispatcher"

	DefaultHostPort       = 10550
	DefaultSetUID         = 99
	DefaultDomain         = "localhost"
	DefaultWebsocketPath  = "/sockethub"
	DefaultExamplesPath   = "/examples"
	DefaultRedisHost      = "127.0.0.1"
	DefaultRedisPort      = 6379
	DefaultExamplesSecret = "1234567890"
	DefaultExamplesDir    = "examples"
	DefaultKeyTimeout     = "15s"
	DefaultAdminListen    = "127.0.0.1:10551"

	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type HostConfig struct {
	EnableTLS      bool     `mapstructure:"ENABLE_TLS"`
	TLSCertsDir    string   `mapstructure:"TLS_CERTS_DIR"`
	Port           int      `mapstructure:"PORT" validate:"min=1,max=65535"`
	MyPlatforms    []string `mapstructure:"MY_PLATFORMS" validate:"dive,platformname"`
	SetUID         int      `mapstructure:"SETUID" validate:"min=0"`
	InitDispatcher bool     `mapstructure:"-"`
	InitListener   bool     `mapstructure:"-"`
}

type PublicConfig struct {
	Domain        string `mapstructure:"DOMAIN" validate:"required"`
	Port          int    `mapstructure:"PORT" validate:"min=1,max=65535"`
	WebsocketPath string `mapstructure:"WEBSOCKET_PATH" validate:"startswith=/"`
	TLS           bool   `mapstructure:"TLS"`
	ExamplesPath  string `mapstructure:"EXAMPLES_PATH" validate:"startswith=/"`
}

type RedisConfig struct {
	Host string `mapstructure:"HOST" validate:"required"`
	Port int    `mapstructure:"PORT" validate:"min=1,max=65535"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

type ExamplesConfig struct {
	Enable    bool   `mapstructure:"ENABLE"`
	Secret    string `mapstructure:"SECRET"`
	Directory string `mapstructure:"DIRECTORY"`
}

// SessionConfig holds the session subsystem settings.
type SessionConfig struct {
	InstanceID string `mapstructure:"INSTANCE_ID" validate:"sockethubid"`
	EncKey     string `mapstructure:"ENC_KEY"`
	KeyTimeout string `mapstructure:"KEY_TIMEOUT" validate:"duration"`

	// InstanceIDGenerated is set when INSTANCE_ID was missing and a random
	// id was made up for this process.
	InstanceIDGenerated bool `mapstructure:"-"`
}

// SharedInstanceID returns the configured instance id. A generated id is
// refused with ErrInstanceIDRequired since no other process listens on it.
func (s SessionConfig) SharedInstanceID() (string, error) {
	if s.InstanceIDGenerated || s.InstanceID == "" {
		return "", ErrInstanceIDRequired
	}
	return s.InstanceID, nil
}

// GetKeyTimeout returns the ping round-trip timeout.
func (s SessionConfig) GetKeyTimeout() time.Duration {
	d, err := time.ParseDuration(s.KeyTimeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultKeyTimeout)
	}
	return d
}

// StoreConfig selects the shared store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"BACKEND" validate:"oneof=redis postgres memory"`
	PostgresDSN string `mapstructure:"POSTGRES_DSN" validate:"required_if=Backend postgres"`
}

// AdminConfig configures the admin API. When TokenSecret is set, every
// route except /ready and /version requires a bearer token signed with it.
type AdminConfig struct {
	Listen      string `mapstructure:"LISTEN" validate:"hostname_port"`
	TokenSecret string `mapstructure:"TOKEN_SECRET" validate:"omitempty,min=16"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Platforms  []string       `mapstructure:"PLATFORMS" validate:"dive,platformname"`
	NumWorkers int            `mapstructure:"NUM_WORKERS" validate:"min=0"`
	Debug      bool           `mapstructure:"DEBUG"`
	LogFile    string         `mapstructure:"LOG_FILE"`
	Verbose    bool           `mapstructure:"VERBOSE"`
	ShowInfo   bool           `mapstructure:"-"`
	Host       HostConfig     `mapstructure:"HOST"`
	Public     PublicConfig   `mapstructure:"PUBLIC"`
	Redis      RedisConfig    `mapstructure:"REDIS"`
	Examples   ExamplesConfig `mapstructure:"EXAMPLES"`
	Session    SessionConfig  `mapstructure:"SESSION"`
	Store      StoreConfig    `mapstructure:"STORE"`
	Admin      AdminConfig    `mapstructure:"ADMIN"`
	Secrets    map[string]any `mapstructure:"SECRETS"`

	ConfigFile       string `mapstructure:"CONFIG_FILE"`
	SecretsFile      string `mapstructure:"SECRETS_FILE"`
	BasePath         string `mapstructure:"BASE_PATH"`
	SockethubVersion string `mapstructure:"SOCKETHUB_VERSION"`
}

// IsLocal reports whether platform runs in this process.
func (c *Config) IsLocal(platform string) bool {
	for _, p := range c.Host.MyPlatforms {
		if p == platform {
			return true
		}
	}
	return false
}

// WebsocketURL is the public websocket endpoint.
func (c *Config) WebsocketURL() string {
	return c.baseURL() + c.Public.WebsocketPath
}

func (c *Config) baseURL() string {
	scheme := "http"
	if c.Public.TLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Public.Domain, c.Public.Port)
}

var (
	headingLabel = color.New(color.FgHiWhite, color.Bold)
	keyLabel     = color.New(color.FgCyan)
)

// Summary prints the startup summary.
func (c *Config) Summary(w io.Writer) {
	line := func(key, format string, args ...any) {
		keyLabel.Fprintf(w, "%17s:", key)
		fmt.Fprintf(w, "  "+format+"\n", args...)
	}
	headingLabel.Fprintf(w, "Sockethub version %s\n\n", c.SockethubVersion)
	line("base dir", "%s", c.BasePath)
	fmt.Fprintln(w)
	headingLabel.Fprintln(w, " PLATFORMS")
	line("worker threads", "%d", c.NumWorkers)
	line("enabled", "%q", c.Platforms)
	line("local", "%q", c.Host.MyPlatforms)
	fmt.Fprintln(w)
	headingLabel.Fprintln(w, " HOST")
	line("websocket url", "%s", c.WebsocketURL())
	if c.Examples.Enable {
		fmt.Fprintln(w)
		line("examples dir", "%s", c.Examples.Directory)
		line("examples url", "%s", c.baseURL()+c.Public.ExamplesPath)
	}
	fmt.Fprintln(w)
	if c.Session.InstanceIDGenerated {
		line("instance id", "%s (generated)", c.Session.InstanceID)
	} else {
		line("instance id", "%s", c.Session.InstanceID)
	}
	line("store", "%s", c.Store.Backend)
	line("redis host", "%s", c.Redis.Addr())
	line("admin api", "%s", c.Admin.Listen)
	line("admin auth", "%t", c.Admin.TokenSecret != "")
	fmt.Fprintln(w)
}
