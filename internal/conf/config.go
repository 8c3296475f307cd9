// Package conf loads and validates mediaflow settings through viper.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogSettings controls the rotating file log.
type LogSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxsizemb"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAgeDays int    `yaml:"maxagedays"`
}

// MainSettings holds application-wide options.
type MainSettings struct {
	Name  string      `yaml:"name"`
	Debug bool        `yaml:"debug"`
	Log   LogSettings `yaml:"log"`
}

// EngineSettings holds scheduler and bus tuning knobs.
type EngineSettings struct {
	MaxContinueRetries int  `yaml:"maxcontinueretries"` // Continue retries per element per pass
	DefaultBusCapacity int  `yaml:"defaultbuscapacity"` // bytes (ring) or slots (others)
	DefaultBlockSize   int  `yaml:"defaultblocksize"`   // block strategy slab size
	Metrics            bool `yaml:"metrics"`
	EventBufferSize    int  `yaml:"eventbuffersize"`
	EventWorkers       int  `yaml:"eventworkers"`
}

// PipelineSettings declares one pipeline to build from the element pool.
type PipelineSettings struct {
	Name     string           `yaml:"name"`
	Elements []string         `yaml:"elements"` // ordered element template names
	Bus      string           `yaml:"bus"`      // ring | pointer | fifo | block
	Task     string           `yaml:"task"`     // pipelines naming the same task share it
	Configs  map[string]map[string]any `yaml:"configs"` // per-element config overrides
}

// Settings is the root configuration structure.
type Settings struct {
	Main      MainSettings       `yaml:"main"`
	Engine    EngineSettings     `yaml:"engine"`
	Pipelines []PipelineSettings `yaml:"pipelines"`
}

var (
	settingsInstance *Settings
	settingsOnce     sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the shared settings instance, loading it on first use.
func Setting() *Settings {
	settingsOnce.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		if settingsInstance == nil {
			s, err := Load("")
			if err != nil {
				s = defaultSettings()
			}
			settingsInstance = s
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Load reads the configuration file (YAML) and returns validated settings.
// An empty path searches the working directory and ~/.config/mediaflow.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mediaflow")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "mediaflow"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			// No config file is fine, defaults apply
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// Validate checks settings for internally consistent values.
func (s *Settings) Validate() error {
	if s.Engine.MaxContinueRetries < 1 {
		return fmt.Errorf("engine.maxcontinueretries must be at least 1, got %d", s.Engine.MaxContinueRetries)
	}
	if s.Engine.DefaultBusCapacity <= 0 {
		return fmt.Errorf("engine.defaultbuscapacity must be positive, got %d", s.Engine.DefaultBusCapacity)
	}
	if s.Engine.DefaultBlockSize <= 0 {
		return fmt.Errorf("engine.defaultblocksize must be positive, got %d", s.Engine.DefaultBlockSize)
	}
	seen := make(map[string]bool, len(s.Pipelines))
	for i := range s.Pipelines {
		p := &s.Pipelines[i]
		if p.Name == "" {
			return fmt.Errorf("pipeline %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pipeline name: %s", p.Name)
		}
		seen[p.Name] = true
		if len(p.Elements) == 0 {
			return fmt.Errorf("pipeline %s declares no elements", p.Name)
		}
		switch p.Bus {
		case "", "ring", "pointer", "fifo", "block":
		default:
			return fmt.Errorf("pipeline %s has unknown bus strategy %q", p.Name, p.Bus)
		}
	}
	return nil
}

// DumpYAML renders the effective settings as YAML.
func (s *Settings) DumpYAML() ([]byte, error) {
	return yaml.Marshal(s)
}
