package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Joseda-hg/tasksync/internal/cache"
)

const (
	EnvPrefix = "TASKSYNC"

	FiltersBackendSQLite = "sqlite"
	FiltersBackendRedis  = "redis"
)

type ReconnectConfig struct {
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	ReloadOnReconnect bool          `mapstructure:"reload_on_reconnect"`
}

type LogConfig struct {
	Level        string `mapstructure:"level"`
	File         string `mapstructure:"file"`
	ReportCaller bool   `mapstructure:"report_caller"`
}

type FiltersConfig struct {
	Backend string            `mapstructure:"backend"`
	Redis   cache.RedisConfig `mapstructure:"redis"`
}

type Config struct {
	APIBaseURL     string          `mapstructure:"api_base_url"`
	WSBaseURL      string          `mapstructure:"ws_base_url"`
	DBPath         string          `mapstructure:"db_path"`
	Token          string          `mapstructure:"token"`
	ProjectID      int64           `mapstructure:"project_id"`
	WebEnabled     bool            `mapstructure:"web_enabled"`
	WebPort        int             `mapstructure:"web_port"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	NoticeTTL      time.Duration   `mapstructure:"notice_ttl"`
	HighlightTTL   time.Duration   `mapstructure:"highlight_ttl"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect"`
	Log            LogConfig       `mapstructure:"log"`
	Filters        FiltersConfig   `mapstructure:"filters"`
}

func Default() Config {
	return Config{
		APIBaseURL:     "http://127.0.0.1:8000",
		WSBaseURL:      "ws://127.0.0.1:8000",
		WebPort:        8080,
		RequestTimeout: 10 * time.Second,
		NoticeTTL:      3 * time.Second,
		HighlightTTL:   1500 * time.Millisecond,
		Reconnect: ReconnectConfig{
			BaseDelay:         time.Second,
			MaxAttempts:       5,
			ReloadOnReconnect: true,
		},
		Log:     LogConfig{Level: "info"},
		Filters: FiltersConfig{Backend: FiltersBackendSQLite},
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tasksync", "config.yaml"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads path on top of the defaults. A missing file is not an error.
// Every key can be overridden from the environment as TASKSYNC_<KEY>, with
// dots replaced by underscores (TASKSYNC_RECONNECT_MAX_ATTEMPTS).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.Wrap(err, "parse config")
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrap(err, "stat config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Save writes cfg as YAML. The token is never written; it lives in the
// credential store.
func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(fileMap(cfg))
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if c.WSBaseURL == "" {
		return errors.New("ws_base_url is required")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be positive")
	}
	switch c.Filters.Backend {
	case "", FiltersBackendSQLite, FiltersBackendRedis:
	default:
		return errors.Errorf("unknown filters.backend %q", c.Filters.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	for key, value := range flatten(cfg) {
		v.SetDefault(key, value)
	}
	v.SetDefault("token", "")
}

func flatten(cfg Config) map[string]any {
	return map[string]any{
		"api_base_url":                  cfg.APIBaseURL,
		"ws_base_url":                   cfg.WSBaseURL,
		"db_path":                       cfg.DBPath,
		"project_id":                    cfg.ProjectID,
		"web_enabled":                   cfg.WebEnabled,
		"web_port":                      cfg.WebPort,
		"request_timeout":               cfg.RequestTimeout,
		"notice_ttl":                    cfg.NoticeTTL,
		"highlight_ttl":                 cfg.HighlightTTL,
		"reconnect.base_delay":          cfg.Reconnect.BaseDelay,
		"reconnect.max_attempts":        cfg.Reconnect.MaxAttempts,
		"reconnect.reload_on_reconnect": cfg.Reconnect.ReloadOnReconnect,
		"log.level":                     cfg.Log.Level,
		"log.file":                      cfg.Log.File,
		"log.report_caller":             cfg.Log.ReportCaller,
		"filters.backend":               cfg.Filters.Backend,
		"filters.redis.host":            cfg.Filters.Redis.Host,
		"filters.redis.password":        cfg.Filters.Redis.Password,
		"filters.redis.db":              cfg.Filters.Redis.Db,
		"filters.redis.pool_size":       cfg.Filters.Redis.PoolSize,
		"filters.redis.prefix":          cfg.Filters.Redis.Prefix,
	}
}

// fileMap nests the flattened keys for the YAML file, with durations as
// strings viper parses back.
func fileMap(cfg Config) map[string]any {
	root := map[string]any{}
	for key, value := range flatten(cfg) {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		parts := strings.Split(key, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return root
}
