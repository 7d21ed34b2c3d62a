package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fourks/sockethub/internal/common"
	"github.com/fourks/sockethub/internal/common/jsruntime"
)

// Cmdline carries the flags that override file values.
type Cmdline struct {
	Debug     bool
	Log       string
	Verbose   bool
	Info      bool
	RedisHost string
	RedisPort int
}

// Options select the config sources. Either ConfigFile or Values must be
// set; SecretsFile and Secrets are optional.
type Options struct {
	ConfigFile  string
	Values      map[string]any
	SecretsFile string
	Secrets     map[string]any
	Cmdline     Cmdline
	Version     string
	BasePath    string
	Env         map[string]string // defaults to the process environment
}

// Load reads the configured sources and returns a validated Config.
func Load(ctx context.Context, opts Options) (*Config, error) {
	if opts.Env == nil {
		opts.Env = environ()
	}
	if opts.BasePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, ErrConfigLoad.Err(err)
		}
		opts.BasePath = wd
	}

	raw := make(map[string]any, len(opts.Values))
	for k, v := range opts.Values {
		raw[k] = v
	}
	if opts.ConfigFile != "" {
		path, err := resolvePath(opts.BasePath, opts.ConfigFile)
		if err != nil {
			return nil, ErrConfigLoad.MsgErr("unable to load config: "+opts.ConfigFile, err)
		}
		raw, err = readFile(ctx, path, opts.Env)
		if err != nil {
			return nil, ErrConfigLoad.MsgErr("unable to load config: "+path, err)
		}
		// JS configs export their values under `config`
		if inner, ok := raw["config"].(map[string]any); ok && strings.HasSuffix(path, ".js") {
			raw = inner
		}
		raw["CONFIG_FILE"] = path
	}
	if opts.ConfigFile == "" && opts.Values == nil {
		return nil, ErrConfigLoad.Msg("no config file or values given")
	}

	secrets := opts.Secrets
	if opts.SecretsFile != "" {
		path, err := resolvePath(opts.BasePath, opts.SecretsFile)
		if err != nil {
			return nil, ErrConfigLoad.MsgErr("unable to load secrets: "+opts.SecretsFile, err)
		}
		secrets, err = readSecrets(ctx, path, opts.Env)
		if err != nil {
			return nil, ErrConfigLoad.MsgErr("unable to load secrets: "+path, err)
		}
		raw["SECRETS_FILE"] = path
	}
	if _, ok := raw["SECRETS"]; !ok && secrets != nil {
		raw["SECRETS"] = secrets
	}

	cfg := &Config{}
	if err := decode(raw, cfg); err != nil {
		return nil, ErrConfigLoad.MsgErr("unable to decode config", err)
	}
	if cfg.BasePath == "" {
		cfg.BasePath = opts.BasePath
	}
	cfg.BasePath = filepath.Clean(cfg.BasePath) + string(filepath.Separator)
	cfg.SockethubVersion = opts.Version

	applyCmdline(cfg, opts.Cmdline)
	applyEnv(cfg, opts.Env)
	_, hasWorkers := raw["NUM_WORKERS"]
	if err := applyDefaults(cfg, hasWorkers); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	log.Debug().
		Str("config_file", cfg.ConfigFile).
		Strs("platforms", cfg.Platforms).
		Msg("config loaded")
	return cfg, nil
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       falseAsEmptyString,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// falseAsEmptyString treats `false` as unset for string fields. Legacy JS
// configs write LOG_FILE: false.
func falseAsEmptyString(from, to reflect.Type, data any) (any, error) {
	if b, ok := data.(bool); ok && !b && to.Kind() == reflect.String {
		return "", nil
	}
	return data, nil
}

func applyCmdline(cfg *Config, c Cmdline) {
	cfg.Debug = c.Debug || cfg.Debug
	if c.Log != "" {
		cfg.LogFile = c.Log
	}
	switch {
	case c.Verbose:
		cfg.Verbose = true
	default:
		cfg.Verbose = cfg.LogFile == ""
	}
	cfg.ShowInfo = c.Info
	if c.RedisHost != "" {
		cfg.Redis.Host = c.RedisHost
	}
	if c.RedisPort != 0 {
		cfg.Redis.Port = c.RedisPort
	}
}

func applyEnv(cfg *Config, env map[string]string) {
	if v := env["SOCKETHUB_REDIS_HOST"]; v != "" {
		cfg.Redis.Host = v
	}
	if v := env["SOCKETHUB_REDIS_PORT"]; v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := env["SOCKETHUB_INSTANCE_ID"]; v != "" {
		cfg.Session.InstanceID = v
	}
	if v := env["SOCKETHUB_ADMIN_TOKEN_SECRET"]; v != "" {
		cfg.Admin.TokenSecret = v
	}
}

func applyDefaults(cfg *Config, hasWorkers bool) error {
	if len(cfg.Platforms) == 0 {
		log.Error().Msg("no platforms defined in config, exiting")
		return ErrNoPlatforms
	}
	if !hasWorkers {
		cfg.NumWorkers = 1
	}

	h := &cfg.Host
	if h.Port == 0 {
		h.Port = DefaultHostPort
	}
	if len(h.MyPlatforms) == 0 {
		h.MyPlatforms = append([]string(nil), cfg.Platforms...)
	}
	if h.SetUID == 0 {
		h.SetUID = DefaultSetUID
	}

	p := &cfg.Public
	if p.Domain == "" {
		p.Domain = DefaultDomain
	}
	if p.Port == 0 {
		p.Port = h.Port
	}
	if p.WebsocketPath == "" {
		p.WebsocketPath = DefaultWebsocketPath
	}
	p.TLS = p.TLS || h.EnableTLS
	if p.ExamplesPath == "" {
		p.ExamplesPath = DefaultExamplesPath
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = DefaultRedisHost
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = DefaultRedisPort
	}

	e := &cfg.Examples
	if e.Secret == "" {
		e.Secret = DefaultExamplesSecret
	}
	if e.Directory == "" {
		e.Directory = DefaultExamplesDir
	}
	if !filepath.IsAbs(e.Directory) {
		e.Directory = filepath.Join(cfg.BasePath, e.Directory)
	}

	for _, platform := range h.MyPlatforms {
		if platform == DispatcherPlatform {
			h.InitDispatcher = true
		} else if cfg.NumWorkers > 0 {
			h.InitListener = true
		}
	}

	s := &cfg.Session
	if s.EncKey == "" {
		if k, ok := cfg.Secrets["ENC_KEY"].(string); ok {
			s.EncKey = k
		}
	}
	if s.KeyTimeout == "" {
		s.KeyTimeout = DefaultKeyTimeout
	}
	if s.InstanceID == "" {
		id, err := common.NewInstanceID()
		if err != nil {
			return ErrConfigLoad.MsgErr("unable to generate instance id", err)
		}
		s.InstanceID = id
		s.InstanceIDGenerated = true
		log.Warn().Str("instance_id", id).Msg("SESSION.INSTANCE_ID not set, generated one for this process")
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreRedis
	}
	if cfg.Admin.TokenSecret == "" {
		if v, ok := cfg.Secrets["ADMIN_TOKEN_SECRET"].(string); ok {
			cfg.Admin.TokenSecret = v
		}
	}
	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = DefaultAdminListen
	}
	return nil
}

// resolvePath tries name as given, then relative to base.
func resolvePath(base, name string) (string, error) {
	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = append(candidates, filepath.Join(base, name))
	}
	var lastErr error
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			lastErr = err
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	return "", lastErr
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// readFile parses a config document into a generic map by file extension.
func readFile(ctx context.Context, path string, env map[string]string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &out); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	case ".js":
		exported, err := jsruntime.EvalModule(ctx, filepath.Base(path), string(data), jsruntime.Options{Env: env})
		if err != nil {
			return nil, err
		}
		out = exported
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return out, nil
}

// readSecrets accepts the config formats plus dotenv files.
func readSecrets(ctx context.Context, path string, env map[string]string) (map[string]any, error) {
	if filepath.Ext(path) == ".env" || filepath.Base(path) == ".env" {
		kv, err := godotenv.Read(path)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(kv))
		for k, v := range kv {
			out[k] = v
		}
		return out, nil
	}
	return readFile(ctx, path, env)
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
