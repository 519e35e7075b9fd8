//-------------------------------------------------------------------------
//
// RAG Chat Server
//
// Copyright (c) 2026, the RAG Chat Server authors
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default configuration file name.
	ConfigFileName = "rag-chat-server.yaml"

	// SystemConfigPath is the system-wide configuration path.
	SystemConfigPath = "/etc/ragchat/" + ConfigFileName
)

// Load loads the configuration from the specified path, or searches
// default locations if path is empty.
//
// Search order:
//  1. Explicit path (if provided)
//  2. /etc/ragchat/rag-chat-server.yaml
//  3. rag-chat-server.yaml in the binary's directory
func Load(path string) (*Config, error) {
	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}

	return loadFromFile(configPath)
}

// findConfigFile finds the configuration file using the search order.
func findConfigFile(explicitPath string) (string, error) {
	// If explicit path provided, use it
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Search order for config file
	searchPaths := []string{
		SystemConfigPath,
		getBinaryDirConfigPath(),
	}

	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no configuration file found; searched: %v", searchPaths)
}

// getBinaryDirConfigPath returns the path to config file in the binary's
// directory.
func getBinaryDirConfigPath() string {
	executable, err := os.Executable()
	if err != nil {
		return ""
	}

	// Resolve symlinks to get the actual binary location
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return ""
	}

	return filepath.Join(filepath.Dir(executable), ConfigFileName)
}

// loadFromFile loads and parses the configuration from a YAML file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults to pipelines
	applyDefaults(cfg)

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults applies default values to pipelines where not specified.
func applyDefaults(cfg *Config) {
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]

		// Apply prompt budget defaults
		if p.MaxPromptTokens == 0 {
			p.MaxPromptTokens = cfg.Defaults.MaxPromptTokens
		}
		if p.ExcerptBudget == 0 {
			p.ExcerptBudget = cfg.Defaults.ExcerptBudget
		}

		// Apply retrieval and history defaults
		if p.TopK == 0 {
			p.TopK = cfg.Defaults.TopK
		}
		if p.HistoryTurns == 0 {
			p.HistoryTurns = cfg.Defaults.HistoryTurns
		}
		if p.TurnTimeout == 0 {
			p.TurnTimeout = cfg.Defaults.TurnTimeout
		}

		// Apply chat LLM defaults
		if p.ChatLLM.Provider == "" {
			p.ChatLLM.Provider = cfg.Defaults.ChatLLM.Provider
		}
		if p.ChatLLM.Model == "" {
			p.ChatLLM.Model = cfg.Defaults.ChatLLM.Model
		}

		// Apply embedding LLM defaults
		if p.EmbeddingLLM.Provider == "" {
			p.EmbeddingLLM.Provider = cfg.Defaults.EmbeddingLLM.Provider
		}
		if p.EmbeddingLLM.Model == "" {
			p.EmbeddingLLM.Model = cfg.Defaults.EmbeddingLLM.Model
		}

		// Apply API key defaults (cascade: pipeline -> defaults -> global)
		if p.APIKeys.Anthropic == "" {
			if cfg.Defaults.APIKeys.Anthropic != "" {
				p.APIKeys.Anthropic = cfg.Defaults.APIKeys.Anthropic
			} else {
				p.APIKeys.Anthropic = cfg.APIKeys.Anthropic
			}
		}
		if p.APIKeys.OpenAI == "" {
			if cfg.Defaults.APIKeys.OpenAI != "" {
				p.APIKeys.OpenAI = cfg.Defaults.APIKeys.OpenAI
			} else {
				p.APIKeys.OpenAI = cfg.APIKeys.OpenAI
			}
		}
		if p.APIKeys.Voyage == "" {
			if cfg.Defaults.APIKeys.Voyage != "" {
				p.APIKeys.Voyage = cfg.Defaults.APIKeys.Voyage
			} else {
				p.APIKeys.Voyage = cfg.APIKeys.Voyage
			}
		}

		// Apply session backend default
		if p.Sessions.Backend == "" {
			p.Sessions.Backend = "memory"
		}

		// Apply database port and ssl_mode defaults
		applyDatabaseDefaults(&p.Index.Database)
		applyDatabaseDefaults(&p.Sessions.Database)
	}
}

// applyDatabaseDefaults fills in port and ssl_mode for a database config.
func applyDatabaseDefaults(db *DatabaseConfig) {
	if db.Port == 0 {
		db.Port = 5432
	}
	if db.SSLMode == "" {
		db.SSLMode = "prefer"
	}
}
