package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	inverrors "github.com/rcourtman/puppetdb-inventory/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "puppetdb.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func newTestLoader(paths ...string) *Loader {
	l := NewLoaderWithPaths(paths...)
	l.lookupEnv = noEnv
	return l
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "host: puppetdb.example.com\n")

	cfg, err := newTestLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "puppetdb.example.com", cfg.Host)
	assert.Equal(t, "http", cfg.Protocol)
	assert.Equal(t, DefaultHTTPPort, cfg.Port)
	assert.Equal(t, DefaultAPIVersion, cfg.APIVersion)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.Timeout)
	assert.Equal(t, DefaultCacheSeconds, cfg.CacheDuration)
	assert.True(t, cfg.SSLVerify.Enabled)
	assert.Empty(t, cfg.SSLVerify.CAFile)
	assert.Equal(t, DefaultConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "inventory.json", filepath.Base(cfg.CacheFile))
}

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
host: puppetdb.example.com
api_version: 3
timeout: 30
ssl_verify: /etc/puppetlabs/puppet/ssl/certs/ca.pem
ssl_key: /etc/puppetlabs/puppet/ssl/private_keys/ansible.pem
ssl_cert: /etc/puppetlabs/puppet/ssl/certs/ansible.pem
cache_file: /tmp/ansible-puppetdb.cache
cache_duration: 3600
group_by: osfamily
group_by_tag:
  - Class: webserver
  - User: admin
exclude_hosts:
  - "*.decommissioned.example.com"
max_concurrency: 4
log_level: DEBUG
`)

	cfg, err := newTestLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https", cfg.Protocol)
	assert.Equal(t, DefaultHTTPSPort, cfg.Port)
	assert.Equal(t, 3, cfg.APIVersion)
	assert.Equal(t, 30, cfg.Timeout)
	assert.True(t, cfg.SSLVerify.Enabled)
	assert.Equal(t, "/etc/puppetlabs/puppet/ssl/certs/ca.pem", cfg.SSLVerify.CAFile)
	assert.Equal(t, "/tmp/ansible-puppetdb.cache", cfg.CacheFile)
	assert.Equal(t, 3600, cfg.CacheDuration)
	assert.Equal(t, "osfamily", cfg.GroupBy)
	assert.Equal(t, []TagGroup{
		{ResourceType: "Class", Tag: "webserver"},
		{ResourceType: "User", Tag: "admin"},
	}, cfg.TagGroups())
	assert.Equal(t, []string{"*.decommissioned.example.com"}, cfg.ExcludeHosts)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadTagEntryWithSeveralResourceTypes(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "host: pdb\ngroup_by_tag:\n  - {Class: webserver, File: motd}\n")

	cfg, err := newTestLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []TagGroup{
		{ResourceType: "Class", Tag: "webserver"},
		{ResourceType: "File", Tag: "motd"},
	}, cfg.TagGroups())
}

func TestLoadSSLVerifyFalse(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "host: pdb\nssl_verify: false\n")

	cfg, err := newTestLoader(path).Load()
	require.NoError(t, err)
	assert.False(t, cfg.SSLVerify.Enabled)
}

func TestLoadFirstExistingFileWins(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "puppetdb.yml")
	second := writeConfig(t, t.TempDir(), "host: second\n")
	third := writeConfig(t, t.TempDir(), "host: third\n")

	cfg, err := newTestLoader(missing, second, third).Load()
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.Host)
}

func TestSetConfigPathTakesPrecedence(t *testing.T) {
	fallback := writeConfig(t, t.TempDir(), "host: fallback\n")
	explicit := writeConfig(t, t.TempDir(), "host: explicit\n")

	loader := newTestLoader(fallback)
	loader.SetConfigPath(explicit)
	loader.SetConfigPath("  ")

	assert.Equal(t, []string{explicit, fallback}, loader.configPaths)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Host)
}

func TestLoadNoConfigFound(t *testing.T) {
	a := filepath.Join(t.TempDir(), "a.yml")
	b := filepath.Join(t.TempDir(), "b.yml")

	_, err := newTestLoader(a, b).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, inverrors.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "could not load any config files")
	assert.Contains(t, err.Error(), a)
	assert.Contains(t, err.Error(), b)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "host: [unterminated\n")

	_, err := newTestLoader(path).Load()
	assert.ErrorContains(t, err, "failed to parse YAML config")
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "\n")

	_, err := newTestLoader(path).Load()
	assert.ErrorContains(t, err, "is empty")
}

func TestLoadBadSSLVerify(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "host: pdb\nssl_verify: [1, 2]\n")

	_, err := newTestLoader(path).Load()
	assert.ErrorContains(t, err, "ssl_verify must be a boolean or a CA bundle path")
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"api version", "host: pdb\napi_version: 2\n", "api_version must be one of [3 4]"},
		{"port range", "host: pdb\nport: 70000\n", "port must be lte 65535"},
		{"protocol", "host: pdb\nprotocol: ftp\n", "protocol must be one of"},
		{"negative cache", "host: pdb\ncache_duration: -1\n", "cache_duration must be gte 0"},
		{"concurrency", "host: pdb\nmax_concurrency: 0\n", "max_concurrency must be gte 1"},
		{"cert without key", "host: pdb\nssl_cert: /tmp/cert.pem\n", "ssl_cert and ssl_key must be set together"},
		{"empty host", "host: \"\"\n", "host is required"},
		{"log format", "host: pdb\nlog_format: xml\n", "log_format must be one of"},
		{"empty tag entry", "host: pdb\ngroup_by_tag:\n  - {}\n", "group_by_tag[0] must have at least 1 entry"},
		{"reserved tag", "host: pdb\ngroup_by_tag:\n  - Class: _meta\n", `group_by_tag[0] tag "_meta" is reserved`},
		{"empty tag", "host: pdb\ngroup_by_tag:\n  - Class: \"\"\n", "group_by_tag[0] needs a resource type and a tag"},
		{"empty exclude pattern", "host: pdb\nexclude_hosts: [\"\"]\n", "is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)

			_, err := newTestLoader(path).Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, inverrors.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "host: from-file\ncache_duration: 60\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte(
		"PUPPETDB_HOST=from-dotenv\nPUPPETDB_TOKEN=dotenv-token\nPUPPETDB_CACHE_DURATION=120\nOTHER=ignored\n",
	), 0o600))

	loader := NewLoaderWithPaths(path)
	loader.lookupEnv = func(key string) (string, bool) {
		if key == "PUPPETDB_HOST" {
			return "from-process", true
		}
		return "", false
	}

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-process", cfg.Host)
	assert.Equal(t, "dotenv-token", cfg.Token)
	assert.Equal(t, 120, cfg.CacheDuration)
}

func TestEnvironmentOverrideInvalidNumber(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "host: pdb\n")

	loader := NewLoaderWithPaths(path)
	loader.lookupEnv = func(key string) (string, bool) {
		if key == "PUPPETDB_PORT" {
			return "eighty", true
		}
		return "", false
	}

	_, err := loader.Load()
	assert.ErrorContains(t, err, "invalid PUPPETDB_PORT")
}

func TestSearchPathsHonoursEnvVar(t *testing.T) {
	t.Setenv(ConfigEnvVar, "/opt/inventory/puppetdb.yml")

	paths := SearchPaths()
	require.Len(t, paths, 3)
	assert.Equal(t, "/opt/inventory/puppetdb.yml", paths[0])
	assert.Equal(t, "puppetdb.yml", filepath.Base(paths[1]))
	assert.Equal(t, "/etc/ansible/puppetdb.yml", paths[2])
}

func TestSearchPathsDefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(ConfigEnvVar, "")

	paths := SearchPaths()
	assert.Equal(t, filepath.Join(home, "puppetdb.yml"), paths[0])
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".cache/inv.json"), expandHome("~/.cache/inv.json"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
