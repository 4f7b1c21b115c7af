package migrate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gnolang/classmig/internal/oracle"
)

// DefaultConfigurationPath is where commands look for the configuration.
const DefaultConfigurationPath = ".classmig.yaml"

// Config is the contents of a .classmig.yaml file. Relative paths are
// taken relative to the directory holding the file.
type Config struct {
	Name     string `yaml:"name" validate:"required"`
	CacheDir string `yaml:"cache_dir" validate:"required"`
	// Surface is a YAML surface, a msgpack snapshot or a host API jar.
	Surface string `yaml:"surface" validate:"required"`
	// Rules is the rule table. Without one nothing is migratable.
	Rules          string   `yaml:"rules,omitempty"`
	ExemptPrefixes []string `yaml:"exempt_prefixes,omitempty" validate:"dive,required"`
}

var configValidate = validator.New()

// DefaultConfig is what "classmig init" writes.
func DefaultConfig() Config {
	return Config{
		Name:           "classmig",
		CacheDir:       ".classmig-cache",
		Surface:        "host-api.yaml",
		Rules:          "migration-rules.yaml",
		ExemptPrefixes: append([]string(nil), oracle.DefaultExemptPrefixes...),
	}
}

// Validate reports missing or malformed settings.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ParseConfigurationFile reads, validates and resolves the configuration
// at path.
func ParseConfigurationFile(path string) (Config, error) {
	var config Config

	f, err := os.Open(path)
	if err != nil {
		return config, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config.resolve(filepath.Dir(path)), nil
}

// WriteConfigurationFile writes config to path as YAML.
func WriteConfigurationFile(path string, config Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

func (c Config) resolve(base string) Config {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.CacheDir = abs(c.CacheDir)
	c.Surface = abs(c.Surface)
	c.Rules = abs(c.Rules)
	return c
}
