package llms

import "github.com/kadirpekel/origin/pkg/config"

func testProviderConfig() *config.LLMProviderConfig {
	cfg := &config.LLMProviderConfig{Provider: "openai", Model: "test-model"}
	cfg.SetDefaults()
	return cfg
}
