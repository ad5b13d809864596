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

package llms

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/registry"
)

// Manager holds the configured providers and tracks the active one.
// Per-request overrides switch the active provider; the switch persists
// (rollback is the caller's concern, and out of scope).
type Manager struct {
	mu        sync.RWMutex
	configs   map[string]*config.LLMProviderConfig
	providers *registry.BaseRegistry[Provider]
	activeID  string
	onChange  []func()
}

// NewManager builds providers from config.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		configs:   cfg.LLMs,
		providers: registry.NewBaseRegistry[Provider](),
		activeID:  cfg.DefaultLLM,
	}
	for id, pc := range cfg.LLMs {
		if err := m.providers.Register(id, NewOpenAIProvider(id, pc, "")); err != nil {
			return nil, fmt.Errorf("failed to register provider %q: %w", id, err)
		}
	}
	if _, ok := m.providers.Get(m.activeID); !ok {
		return nil, fmt.Errorf("active provider %q not configured", m.activeID)
	}
	return m, nil
}

// Active returns the currently active provider.
func (m *Manager) Active() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, _ := m.providers.Get(m.activeID)
	return p
}

// Get returns a provider by id.
func (m *Manager) Get(id string) (Provider, bool) {
	return m.providers.Get(id)
}

// OnChange registers a callback fired after every provider/model switch.
// The graph runtime uses this to invalidate its singleton.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// ApplyOverride switches the active provider and/or model for this and all
// subsequent turns. Returns true when anything changed.
func (m *Manager) ApplyOverride(providerID, modelName string) (bool, error) {
	if providerID == "" && modelName == "" {
		return false, nil
	}

	m.mu.Lock()
	targetID := m.activeID
	if providerID != "" {
		if _, ok := m.configs[providerID]; !ok {
			m.mu.Unlock()
			return false, fmt.Errorf("unknown provider %q", providerID)
		}
		targetID = providerID
	}

	changed := targetID != m.activeID
	if modelName != "" {
		current, _ := m.providers.Get(targetID)
		if current == nil || current.ModelName() != modelName {
			// Rebuild the provider bound to the requested model.
			old, _ := m.providers.Get(targetID)
			_ = m.providers.Remove(targetID)
			if err := m.providers.Register(targetID, NewOpenAIProvider(targetID, m.configs[targetID], modelName)); err != nil {
				m.mu.Unlock()
				return false, err
			}
			if old != nil {
				_ = old.Close()
			}
			changed = true
		}
	}
	m.activeID = targetID
	callbacks := append([]func(){}, m.onChange...)
	m.mu.Unlock()

	if changed {
		slog.Info("Switched LLM provider", "provider", targetID, "model", modelName)
		for _, fn := range callbacks {
			fn()
		}
	}
	return changed, nil
}

// Close closes all providers.
func (m *Manager) Close() error {
	for _, p := range m.providers.List() {
		_ = p.Close()
	}
	return nil
}
