package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// config is the YAML configuration of the web UI. Every field can be
// overridden by environment variables so deployments without a config file
// keep working.
type config struct {
	Port       string `yaml:"port"`
	BackendURL string `yaml:"backendURL"`
	APIToken   string `yaml:"apiToken"`
	DBPath     string `yaml:"dbPath"`
	LogLevel   string `yaml:"logLevel"`
}

func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if v := os.Getenv("GRAPHRAG_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("GRAPHRAG_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("GRAPHRAG_API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("GRAPHRAG_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GRAPHRAG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Port == "" {
		cfg.Port = "8090"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "graphrag-ui.db"
	}
	if cfg.BackendURL == "" {
		return config{}, fmt.Errorf("backendURL is required")
	}

	return cfg, nil
}
