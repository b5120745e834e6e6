package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	inverrors "github.com/rcourtman/puppetdb-inventory/internal/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigEnvVar overrides the first search path.
	ConfigEnvVar = "ANSIBLE_PUPPETDB_CONFIG"
	// EnvFileName is an optional dotenv file read from the config file's directory.
	EnvFileName = "puppetdb.env"

	configFileName  = "puppetdb.yml"
	systemConfigDir = "/etc/ansible"
	envPrefix       = "PUPPETDB_"

	// metaGroup is the inventory key that carries hostvars.
	metaGroup = "_meta"
)

// Loader finds and loads the inventory configuration.
type Loader struct {
	configPaths []string
	lookupEnv   func(string) (string, bool)
}

// NewLoader creates a loader using the standard search path.
func NewLoader() *Loader {
	return NewLoaderWithPaths(SearchPaths()...)
}

// NewLoaderWithPaths creates a loader that searches only paths, in order.
func NewLoaderWithPaths(paths ...string) *Loader {
	return &Loader{
		configPaths: paths,
		lookupEnv:   os.LookupEnv,
	}
}

// SearchPaths returns the standard config locations; the first existing file wins.
func SearchPaths() []string {
	first := "~/" + configFileName
	if v := strings.TrimSpace(os.Getenv(ConfigEnvVar)); v != "" {
		first = v
	}

	paths := []string{expandHome(first)}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, configFileName))
	}
	return append(paths, filepath.Join(systemConfigDir, configFileName))
}

// SetConfigPath adds a custom config path to search ahead of the others
func (l *Loader) SetConfigPath(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	l.configPaths = append([]string{expandHome(path)}, l.configPaths...)
}

// Load reads the first existing config file, applies environment overrides
// and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	path, err := l.findConfigFile()
	if err != nil {
		return nil, inverrors.WrapConfigError("load_config", err)
	}

	cfg := DefaultConfig()
	if err := loadFile(path, cfg); err != nil {
		return nil, inverrors.WrapConfigError("load_config", err)
	}
	cfg.Path = path

	env, err := l.environment(filepath.Join(filepath.Dir(path), EnvFileName))
	if err != nil {
		return nil, inverrors.WrapConfigError("load_config", err)
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, inverrors.WrapConfigError("load_config", err)
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, inverrors.WrapConfigError("validate_config", err)
	}

	log.Debug().
		Str("path", path).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("protocol", cfg.Protocol).
		Int("api_version", cfg.APIVersion).
		Msg("Loaded PuppetDB inventory configuration")

	return cfg, nil
}

func (l *Loader) findConfigFile() (string, error) {
	for _, path := range l.configPaths {
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", path)
			}
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("could not load any config files: %s", strings.Join(l.configPaths, ", "))
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("config file %s is empty", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}
	return nil
}

// environment merges the optional dotenv file with the process environment;
// the process environment wins.
func (l *Loader) environment(envFile string) (map[string]string, error) {
	env := map[string]string{}

	if _, err := os.Stat(envFile); err == nil {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			if strings.HasPrefix(k, envPrefix) {
				env[k] = v
			}
		}
		log.Debug().Str("path", envFile).Int("keys", len(env)).Msg("Loaded environment overrides file")
	}

	for _, key := range envKeys {
		if v, ok := l.lookupEnv(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

var envKeys = []string{
	envPrefix + "HOST",
	envPrefix + "PORT",
	envPrefix + "PROTOCOL",
	envPrefix + "TOKEN",
	envPrefix + "CACHE_FILE",
	envPrefix + "CACHE_DURATION",
	envPrefix + "LOG_LEVEL",
}

func applyEnv(cfg *Config, env map[string]string) error {
	for key, raw := range env {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		switch strings.TrimPrefix(key, envPrefix) {
		case "HOST":
			cfg.Host = val
		case "PORT":
			port, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, val, err)
			}
			cfg.Port = port
		case "PROTOCOL":
			cfg.Protocol = val
		case "TOKEN":
			cfg.Token = val
		case "CACHE_FILE":
			cfg.CacheFile = val
		case "CACHE_DURATION":
			seconds, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, val, err)
			}
			cfg.CacheDuration = seconds
		case "LOG_LEVEL":
			cfg.LogLevel = val
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("%w: %s", inverrors.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return err
	}

	for i, entry := range c.GroupByTag {
		for resourceType, tag := range entry {
			if strings.TrimSpace(resourceType) == "" || strings.TrimSpace(tag) == "" {
				return fmt.Errorf("%w: group_by_tag[%d] needs a resource type and a tag", inverrors.ErrInvalidConfig, i)
			}
			if tag == metaGroup {
				return fmt.Errorf("%w: group_by_tag[%d] tag %q is reserved", inverrors.ErrInvalidConfig, i, metaGroup)
			}
		}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return "ssl_cert and ssl_key must be set together"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must have at least %s entry", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

// Load is a convenience wrapper: explicitPath, when set, is searched first.
func Load(explicitPath string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigPath(explicitPath)
	return loader.Load()
}
