package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/dnscore/internal/dns/common/utils"
	"github.com/haukened/dnscore/internal/dns/domain"
)

// ConfigFileEnv names the environment variable consulted when no config file
// path is passed to Load.
const ConfigFileEnv = "DNS_CONFIG_FILE"

// AppConfig holds the server configuration. Values come from defaults, then
// an optional config file, then DNS_-prefixed environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Port is the network port the DNS server binds for both UDP and TCP.
	Port int `koanf:"port" validate:"gte=0,lte=65535"`

	// Upstream lists forwarders as IP literals (port 53) or ip:port.
	// Empty means the host's resolvers.
	Upstream []string `koanf:"upstream" validate:"dive,upstream_addr"`

	// EnableUpstream forwards names the local store cannot answer.
	EnableUpstream bool `koanf:"enable_upstream"`

	// AliasDepth > 0 answers through local CNAME chains of at most that many hops.
	AliasDepth int `koanf:"alias_depth" validate:"gte=0,lte=32"`

	// ZoneDir optionally holds zone files loaded as initial records.
	ZoneDir string `koanf:"zone_dir"`

	// HostsFiles are /etc/hosts-style files whose entries become A and AAAA records.
	HostsFiles []string `koanf:"hosts_files"`

	// CustomRecords are added to the store at startup.
	CustomRecords []RecordConfig `koanf:"custom_records" validate:"dive"`

	Cache       CacheConfig       `koanf:"cache"`
	Persistence PersistenceConfig `koanf:"persistence"`
	API         APIConfig         `koanf:"api"`
}

// RecordConfig is a record as written in the config file.
type RecordConfig struct {
	Domain string `koanf:"domain" validate:"required"`
	Type   string `koanf:"type" validate:"required,rrtype"`
	Value  string `koanf:"value" validate:"required"`
	TTL    int    `koanf:"ttl" validate:"gte=0"`
}

// CacheConfig sizes the upstream result cache.
type CacheConfig struct {
	Size            int           `koanf:"size" validate:"gte=1"`
	MaxTTL          time.Duration `koanf:"max_ttl" validate:"gt=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// PersistenceConfig selects where managed records are saved.
type PersistenceConfig struct {
	Provider string `koanf:"provider" validate:"oneof=json sqlite bolt none"`
	Path     string `koanf:"path" validate:"required_unless=Provider none"`
	// AutoSaveInterval > 0 batches saves on a timer; zero saves on every change.
	AutoSaveInterval time.Duration `koanf:"autosave_interval" validate:"gte=0"`
}

// APIConfig controls the management HTTP API.
type APIConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// Records converts CustomRecords to domain records. Load has validated them.
func (c *AppConfig) Records() ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(c.CustomRecords))
	for i, rc := range c.CustomRecords {
		t, err := domain.ParseRRType(rc.Type)
		if err != nil {
			return nil, fmt.Errorf("custom_records[%d]: %w", i, err)
		}
		r, err := domain.NewRecord(rc.Domain, t, rc.Value, rc.TTL)
		if err != nil {
			return nil, fmt.Errorf("custom_records[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// DEFAULT_APP_CONFIG defines the default application configuration settings for the DNS service.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:            "prod",
	LogLevel:       "info",
	Port:           53,
	Upstream:       []string{},
	EnableUpstream: true,
	AliasDepth:     0,
	HostsFiles:     []string{},
	Cache: CacheConfig{
		Size:            10000,
		MaxTTL:          5 * time.Minute,
		CleanupInterval: time.Minute,
	},
	Persistence: PersistenceConfig{
		Provider: "json",
		Path:     "data/dns-records.json",
	},
	API: APIConfig{
		Enabled: true,
		Addr:    "127.0.0.1:8080",
	},
}

// envSections are the nested config tables reachable from the environment:
// DNS_CACHE_MAX_TTL sets cache.max_ttl.
var envSections = []string{"cache", "persistence", "api"}

// envKey maps an environment variable name to its koanf key.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, "DNS_"))
	for _, section := range envSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// validUpstreamAddr accepts an IP literal or an ip:port pair.
func validUpstreamAddr(fl validator.FieldLevel) bool {
	_, err := utils.ParseServerAddr(fl.Field().String())
	return err == nil
}

// validRRType accepts a record type that can be stored.
func validRRType(fl validator.FieldLevel) bool {
	t, err := domain.ParseRRType(fl.Field().String())
	return err == nil && t != domain.RRTypeANY
}

// envLoader loads environment variables with the prefix "DNS_". Values holding
// spaces or commas become lists. It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = envKey(key)
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads a YAML, JSON or TOML config file chosen by extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// registerValidation registers the custom "upstream_addr" and "rrtype" tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("upstream_addr", validUpstreamAddr); err != nil {
		return err
	}
	return v.RegisterValidation("rrtype", validRRType)
}

// Load builds the configuration from defaults, the config file at path (or
// $DNS_CONFIG_FILE when path is empty) and the environment, then validates it.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return nil, fmt.Errorf("validation failed: api.addr is required when the API is enabled")
	}

	return &cfg, nil
}
