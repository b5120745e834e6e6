package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost           = "localhost"
	DefaultHTTPPort       = 8080
	DefaultHTTPSPort      = 8081
	DefaultAPIVersion     = 4
	DefaultTimeoutSeconds = 10
	DefaultCacheSeconds   = 300
	DefaultConcurrency    = 8
	DefaultLogLevel       = "warn"
	DefaultLogFormat      = "auto"
)

// Config is the inventory configuration, read from puppetdb.yml.
type Config struct {
	Host       string    `yaml:"host" validate:"required"`
	Port       int       `yaml:"port" validate:"gte=0,lte=65535"`
	Protocol   string    `yaml:"protocol" validate:"omitempty,oneof=http https"`
	APIVersion int       `yaml:"api_version" validate:"oneof=3 4"`
	Timeout    int       `yaml:"timeout" validate:"gte=0"`
	SSLVerify  SSLVerify `yaml:"ssl_verify"`
	SSLKey     string    `yaml:"ssl_key" validate:"required_with=SSLCert"`
	SSLCert    string    `yaml:"ssl_cert" validate:"required_with=SSLKey"`
	Token      string    `yaml:"token"`

	CacheFile     string `yaml:"cache_file"`
	CacheDuration int    `yaml:"cache_duration" validate:"gte=0"`

	GroupBy      string              `yaml:"group_by"`
	GroupByTag   []map[string]string `yaml:"group_by_tag" validate:"dive,min=1"`
	IncludeHosts []string            `yaml:"include_hosts" validate:"dive,required"`
	ExcludeHosts []string            `yaml:"exclude_hosts" validate:"dive,required"`

	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=1,lte=64"`

	LogLevel        string `yaml:"log_level" validate:"oneof=trace debug info warn warning error disabled"`
	LogFormat       string `yaml:"log_format" validate:"oneof=auto json console"`
	LogFile         string `yaml:"log_file"`
	MetricsTextfile string `yaml:"metrics_textfile"`

	// Path is the file the configuration was read from.
	Path string `yaml:"-"`
}

// SSLVerify mirrors the ssl_verify setting, which is either a boolean or the
// path of a CA bundle to verify the server against.
type SSLVerify struct {
	Enabled bool
	CAFile  string
}

func (v *SSLVerify) UnmarshalYAML(node *yaml.Node) error {
	var enabled bool
	if err := node.Decode(&enabled); err == nil {
		v.Enabled = enabled
		v.CAFile = ""
		return nil
	}
	var path string
	if err := node.Decode(&path); err != nil {
		return fmt.Errorf("ssl_verify must be a boolean or a CA bundle path")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("ssl_verify must be a boolean or a CA bundle path")
	}
	v.Enabled = true
	v.CAFile = path
	return nil
}

// TagGroup is one group_by_tag entry: hosts carrying a resource of
// ResourceType tagged Tag are placed in the group named Tag.
type TagGroup struct {
	ResourceType string
	Tag          string
}

// DefaultConfig returns a configuration with every default applied except the
// ones derived from other fields (protocol, port, cache file).
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		APIVersion:     DefaultAPIVersion,
		Timeout:        DefaultTimeoutSeconds,
		SSLVerify:      SSLVerify{Enabled: true},
		CacheDuration:  DefaultCacheSeconds,
		MaxConcurrency: DefaultConcurrency,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}
}

// applyDerivedDefaults fills settings whose default depends on other settings.
func (c *Config) applyDerivedDefaults() {
	c.Host = strings.TrimSpace(c.Host)
	c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
	if c.Protocol == "" {
		c.Protocol = "http"
		if c.SSLCert != "" && c.SSLKey != "" {
			c.Protocol = "https"
		}
	}
	if c.Port == 0 {
		c.Port = DefaultHTTPPort
		if c.Protocol == "https" {
			c.Port = DefaultHTTPSPort
		}
	}
	if strings.TrimSpace(c.CacheFile) == "" {
		c.CacheFile = defaultCacheFile()
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	c.CacheFile = expandHome(c.CacheFile)
	c.SSLKey = expandHome(c.SSLKey)
	c.SSLCert = expandHome(c.SSLCert)
	c.SSLVerify.CAFile = expandHome(c.SSLVerify.CAFile)
	c.LogFile = expandHome(c.LogFile)
	c.MetricsTextfile = expandHome(c.MetricsTextfile)
}

// TimeoutDuration returns the request timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// CacheTTL returns how long a cached inventory stays fresh. Zero disables caching.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheDuration) * time.Second
}

// TagGroups flattens group_by_tag into a deterministic list.
func (c *Config) TagGroups() []TagGroup {
	var groups []TagGroup
	for _, entry := range c.GroupByTag {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			groups = append(groups, TagGroup{ResourceType: k, Tag: entry[k]})
		}
	}
	return groups
}

func defaultCacheFile() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "puppetdb-inventory", "inventory.json")
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
