package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/linksign/internal/config"
)

func TestDefaults(t *testing.T) {
	c := config.Default()

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, "memory", c.Keys.Driver)
	assert.Equal(t, "5m", c.Keys.CacheTTL)
	assert.Equal(t, "1m", c.Keys.RefreshAfter)
	assert.Equal(t, "5m", c.Links.DefaultTTL)
	assert.Equal(t, "15m", c.Links.MaxTTL)
	require.NoError(t, c.Validate())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
app:
  env: prod
server:
  addr: ":9090"
keys:
  driver: redis
  cache_ttl: 2m
  redis:
    addr: redis-a:6379
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))
	t.Setenv("LINKSIGN_REDIS_ADDR", "redis-b:6379")
	t.Setenv("LINKSIGN_ADMIN_KEY", "from-env")

	c, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", c.App.Env)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "redis", c.Keys.Driver)
	assert.Equal(t, "2m", c.Keys.CacheTTL)

	// El env pisa al archivo.
	assert.Equal(t, "redis-b:6379", c.Keys.Redis.Addr)
	assert.Equal(t, "from-env", c.Server.AdminAPIKey)

	// El resto conserva defaults.
	assert.Equal(t, "linksign", c.Links.Issuer)
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := config.Default()
	c.Keys.Driver = "etcd"
	assert.Error(t, c.Validate(), "unknown driver must fail validation")

	c = config.Default()
	c.Keys.CacheTTL = "five minutes"
	assert.Error(t, c.Validate(), "bad duration must fail validation")
}

func TestDur(t *testing.T) {
	assert.Equal(t, 90.0, config.Dur("90s").Seconds())
}
