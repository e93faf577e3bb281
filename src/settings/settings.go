package settings

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

type Arguments struct {
	// The directory database files are created in when a relative
	// path is opened.
	DataDir string `yaml:"datadir"`

	ConfigFile string `yaml:"-"`

	// Strongly verbose logging
	Verbose bool `yaml:"verbose"`

	Debug bool `yaml:"debug"`

	// DisableEncryption ignores every registered encryption key and
	// opens all files in plaintext. Intended for test harnesses; it is
	// read once at registry construction, not while instances are open.
	DisableEncryption bool `yaml:"disable_encryption"`
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the global settings instance
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			DataDir: "./datafiles",
		}
	})
	return instance
}

// LoadConfigFile overlays values from a YAML config file onto the
// arguments.
func (a *Arguments) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, a); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}
