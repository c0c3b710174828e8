package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openkeyless/timesig/internal/audit"
)

var (
	configPath string
	auditPath  string
)

// Config is the YAML configuration of the CLI. Flags override file values.
type Config struct {
	// Stamper is the URL timestamp requests are POSTed to.
	Stamper string `yaml:"stamper"`
	// Extender is the URL extension requests are POSTed to.
	Extender string `yaml:"extender"`
	// Publications is the path of the local publications file copy.
	Publications string `yaml:"publications"`
	// Algorithm is the default document hash algorithm.
	Algorithm string `yaml:"algorithm"`
}

// loadConfig reads the config file if one exists. A missing default config
// is not an error.
func loadConfig() (*Config, error) {
	path := configPath
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return &Config{}, nil
		}
		path = filepath.Join(home, ".timesig.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// openAudit opens the audit log when one was requested.
func openAudit() (*audit.Log, error) {
	if auditPath == "" {
		return nil, nil
	}
	return audit.Open(auditPath)
}

// logEvent writes one event to the audit log, if logging is enabled.
func logEvent(log *audit.Log, event audit.Event) error {
	if log == nil {
		return nil
	}
	return log.Write(&event)
}
