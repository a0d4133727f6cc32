package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Server struct {
		Addr        string `yaml:"addr"`
		BaseURL     string `yaml:"base_url"`
		AdminAPIKey string `yaml:"admin_api_key"` // override: LINKSIGN_ADMIN_KEY
	} `yaml:"server"`

	Keys struct {
		// memory | redis | vault
		Driver string `yaml:"driver"`

		// Cache local del store distribuido. TTL "0" desactiva el cache.
		CacheTTL     string `yaml:"cache_ttl"`     // default 5m
		RefreshAfter string `yaml:"refresh_after"` // default 1m
		LockWait     string `yaml:"lock_wait"`     // default 10s
		LockTTL      string `yaml:"lock_ttl"`      // default 30s

		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`

		Vault struct {
			// fs | memory (memory solo dev)
			Kind string `yaml:"kind"`
			Dir  string `yaml:"dir"` // kind=fs

			Config struct {
				// postgres | memory (memory solo dev)
				Driver string `yaml:"driver"`
				DSN    string `yaml:"dsn"` // override: LINKSIGN_CONFIG_DSN
			} `yaml:"config"`

			MaxAttempts int    `yaml:"max_attempts"` // default 5
			Backoff     string `yaml:"backoff"`      // default 100ms
		} `yaml:"vault"`
	} `yaml:"keys"`

	Links struct {
		Issuer     string `yaml:"issuer"`
		DefaultTTL string `yaml:"default_ttl"` // default 5m
		MaxTTL     string `yaml:"max_ttl"`     // default 15m
	} `yaml:"links"`

	Security struct {
		// base64(32 bytes); override: SECRETBOX_MASTER_KEY
		SecretBoxMasterKey string `yaml:"secretbox_master_key"`
	} `yaml:"security"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default construye una config sin archivo (todo env/defaults).
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	c.applyEnvOverrides()
	return c
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	if c.Keys.Driver == "" {
		c.Keys.Driver = "memory"
	}
	if c.Keys.CacheTTL == "" {
		c.Keys.CacheTTL = "5m"
	}
	if c.Keys.RefreshAfter == "" {
		c.Keys.RefreshAfter = "1m"
	}
	if c.Keys.LockWait == "" {
		c.Keys.LockWait = "10s"
	}
	if c.Keys.LockTTL == "" {
		c.Keys.LockTTL = "30s"
	}
	if c.Keys.Redis.Addr == "" {
		c.Keys.Redis.Addr = "localhost:6379"
	}
	if c.Keys.Redis.Prefix == "" {
		c.Keys.Redis.Prefix = "linksign:"
	}
	if c.Keys.Vault.Kind == "" {
		c.Keys.Vault.Kind = "fs"
	}
	if c.Keys.Vault.Dir == "" {
		c.Keys.Vault.Dir = "data/vault"
	}
	if c.Keys.Vault.Config.Driver == "" {
		c.Keys.Vault.Config.Driver = "postgres"
	}
	if c.Keys.Vault.MaxAttempts == 0 {
		c.Keys.Vault.MaxAttempts = 5
	}
	if c.Keys.Vault.Backoff == "" {
		c.Keys.Vault.Backoff = "100ms"
	}
	if c.Links.Issuer == "" {
		c.Links.Issuer = "linksign"
	}
	if c.Links.DefaultTTL == "" {
		c.Links.DefaultTTL = "5m"
	}
	if c.Links.MaxTTL == "" {
		c.Links.MaxTTL = "15m"
	}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("LINKSIGN_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LINKSIGN_BASE_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvStr("LINKSIGN_ADMIN_KEY"); ok {
		c.Server.AdminAPIKey = v
	}
	if v, ok := getEnvStr("LINKSIGN_KEYS_DRIVER"); ok {
		c.Keys.Driver = v
	}
	if v, ok := getEnvStr("LINKSIGN_REDIS_ADDR"); ok {
		c.Keys.Redis.Addr = v
	}
	if v, ok := getEnvInt("LINKSIGN_REDIS_DB"); ok {
		c.Keys.Redis.DB = v
	}
	if v, ok := getEnvStr("LINKSIGN_CONFIG_DSN"); ok {
		c.Keys.Vault.Config.DSN = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
}

func (c *Config) Validate() error {
	switch c.Keys.Driver {
	case "memory", "redis", "vault":
	default:
		return fmt.Errorf("keys.driver inválido: %q (memory|redis|vault)", c.Keys.Driver)
	}
	// Las duraciones se validan acá para fallar en el arranque, no en runtime.
	for name, val := range map[string]string{
		"keys.cache_ttl":     c.Keys.CacheTTL,
		"keys.refresh_after": c.Keys.RefreshAfter,
		"keys.lock_wait":     c.Keys.LockWait,
		"keys.lock_ttl":      c.Keys.LockTTL,
		"keys.vault.backoff": c.Keys.Vault.Backoff,
		"links.default_ttl":  c.Links.DefaultTTL,
		"links.max_ttl":      c.Links.MaxTTL,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: duración inválida %q", name, val)
		}
	}
	return nil
}

// Dur parsea una duración ya validada; los campos default nunca fallan.
func Dur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
