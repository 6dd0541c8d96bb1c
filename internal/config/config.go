// Package config loads service settings from hall.yml, with environment
// variables taking precedence over the file.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr         string `yaml:"listenAddr,omitempty"`
	DBPath             string `yaml:"dbPath,omitempty"`
	DefaultMaxSpeakers int    `yaml:"defaultMaxSpeakers,omitempty"`
	MCPStdio           bool   `yaml:"mcpStdio,omitempty"`
}

// Load reads hall.yml or hall.yaml from dir. A missing file is not an error;
// defaults and environment overrides still apply.
func Load(dir string) (*Config, error) {
	cfg := &Config{}
	for _, name := range []string{"hall.yml", "hall.yaml"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		break
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HALL_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("HALL_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("HALL_DEFAULT_MAX_SPEAKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultMaxSpeakers = n
		}
	}
	if v := os.Getenv("HALL_MCP_STDIO"); v != "" {
		c.MCPStdio = v == "1" || v == "true"
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(".hall", "hall.db")
	}
	if c.DefaultMaxSpeakers < 1 {
		c.DefaultMaxSpeakers = 3
	}
}
