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

package config

import "fmt"

// LLMProviderConfig holds configuration for a single LLM provider.
// Providers speak the OpenAI chat-completions protocol; base_url selects the
// actual backend (OpenAI, DeepSeek, Ollama, vLLM, ...).
type LLMProviderConfig struct {
	// Provider type. Currently "openai" (OpenAI-compatible protocol).
	Provider string `yaml:"provider"`

	// Model name sent to the provider.
	Model string `yaml:"model"`

	// DisplayName shown in logs and model listings.
	DisplayName string `yaml:"display_name,omitempty"`

	// BaseURL of the API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for authentication.
	APIKey string `yaml:"api_key,omitempty"`

	// EmbeddingModel used for the knowledge index. Empty disables
	// provider-side embeddings.
	EmbeddingModel string `yaml:"embedding_model,omitempty"`

	// Temperature for sampling.
	Temperature float64 `yaml:"temperature,omitempty"`

	// MaxTokens per completion.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// ConnectTimeout in seconds for establishing connections.
	ConnectTimeout int `yaml:"connect_timeout,omitempty"`

	// ReadTimeout in seconds. Must tolerate long streaming responses.
	ReadTimeout int `yaml:"read_timeout,omitempty"`

	// EmbedConnectTimeout in seconds for embedding calls.
	EmbedConnectTimeout int `yaml:"embed_connect_timeout,omitempty"`

	// EmbedReadTimeout in seconds for embedding calls.
	EmbedReadTimeout int `yaml:"embed_read_timeout,omitempty"`

	// MaxRetries for non-streaming requests.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay base delay in seconds between retries.
	RetryDelay int `yaml:"retry_delay,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 120
	}
	if c.EmbedConnectTimeout == 0 {
		c.EmbedConnectTimeout = 8
	}
	if c.EmbedReadTimeout == 0 {
		c.EmbedReadTimeout = 20
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
}

// Validate checks the provider configuration.
func (c *LLMProviderConfig) Validate() error {
	if c.Provider != "openai" {
		return fmt.Errorf("unsupported provider type %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}
