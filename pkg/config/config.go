// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration loading and management for Origin.
//
// Origin is config-first: LLM providers, the notes database, agent limits,
// and the server are defined in YAML and the runtime builds them
// automatically.
//
// Example config:
//
//	name: origin
//
//	llms:
//	  default:
//	    provider: openai
//	    model: deepseek-chat
//	    base_url: ${OPENAI_BASE_URL}
//	    api_key: ${OPENAI_API_KEY}
//
//	database:
//	  driver: sqlite
//	  database: origin.db
//
//	server:
//	  port: 8080
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	// Name of this configuration (for logging/display).
	Name string `yaml:"name,omitempty"`

	// LLMs defines available LLM providers, keyed by provider id.
	LLMs map[string]*LLMProviderConfig `yaml:"llms,omitempty"`

	// DefaultLLM selects the active provider id. Defaults to "default"
	// when present, else the single configured provider.
	DefaultLLM string `yaml:"default_llm,omitempty"`

	// Database is the shared SQL database holding notes and checkpoints.
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Agent holds turn-loop limits and policy lexicons.
	Agent *AgentConfig `yaml:"agent,omitempty"`

	// Knowledge configures the semantic index.
	Knowledge *KnowledgeConfig `yaml:"knowledge,omitempty"`

	// Server holds HTTP server settings.
	Server *ServerConfig `yaml:"server,omitempty"`

	// Logging holds log level and format.
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "origin"
	}
	if c.Database == nil {
		c.Database = &DatabaseConfig{Driver: "sqlite", Database: "origin.db"}
	}
	c.Database.SetDefaults()
	if c.Agent == nil {
		c.Agent = &AgentConfig{}
	}
	c.Agent.SetDefaults()
	if c.Knowledge == nil {
		c.Knowledge = &KnowledgeConfig{}
	}
	c.Knowledge.SetDefaults()
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	c.Server.SetDefaults()
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	if c.DefaultLLM == "" {
		if _, ok := c.LLMs["default"]; ok {
			c.DefaultLLM = "default"
		} else if len(c.LLMs) == 1 {
			for id := range c.LLMs {
				c.DefaultLLM = id
			}
		}
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.LLMs) == 0 {
		return fmt.Errorf("at least one llm provider is required")
	}
	if c.DefaultLLM != "" {
		if _, ok := c.LLMs[c.DefaultLLM]; !ok {
			return fmt.Errorf("default_llm %q is not a configured provider", c.DefaultLLM)
		}
	}
	for id, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", id, err)
		}
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Load reads, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	expanded := ExpandEnv(string(raw))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
