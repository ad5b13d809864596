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

package agent

import (
	"github.com/kadirpekel/origin/pkg/checkpoint"
	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/llms"
	"github.com/kadirpekel/origin/pkg/notes"
	"github.com/kadirpekel/origin/pkg/policy"
	"github.com/kadirpekel/origin/pkg/tools"
)

// Node names. The wiring is deterministic:
//
//	START → router
//	router → fast_chat            when intent=CHAT
//	router → agent                when intent=TASK
//	fast_chat → END
//	agent → pick_one_tool         when last assistant has tool calls and
//	                              tool_call_count < MaxToolCalls
//	agent → END                   otherwise
//	pick_one_tool → run_one_tool
//	run_one_tool → status
//	status → agent                (loop)
const (
	NodeRouter      = "router"
	NodeFastChat    = "fast_chat"
	NodeAgent       = "agent"
	NodePickOneTool = "pick_one_tool"
	NodeRunOneTool  = "run_one_tool"
	NodeStatus      = "status"
)

// ProviderSource yields the active LLM provider. Satisfied by
// *llms.Manager; tests substitute scripted providers.
type ProviderSource interface {
	Active() llms.Provider
	ApplyOverride(providerID, modelName string) (bool, error)
	OnChange(fn func())
}

// Service owns the agent graph and its collaborators.
type Service struct {
	cfg     *config.Config
	llm     ProviderSource
	tools   *tools.Registry
	policy  *policy.Engine
	notes   notes.Store
	runtime *graph.Runtime[*State]

	// newStore builds the checkpoint store; called on every runtime
	// (re)build so invalidation reopens the handle.
	newStore func() (checkpoint.Store, error)
}

// NewService wires the agent service. Provider/model switches invalidate
// the graph runtime automatically.
func NewService(cfg *config.Config, llm ProviderSource, reg *tools.Registry, noteStore notes.Store, newStore func() (checkpoint.Store, error)) *Service {
	s := &Service{
		cfg:      cfg,
		llm:      llm,
		tools:    reg,
		policy:   policy.NewEngine(cfg.Agent),
		notes:    noteStore,
		newStore: newStore,
	}
	s.runtime = graph.NewRuntime(s.buildExecutor)
	llm.OnChange(s.runtime.Invalidate)
	return s
}

// InvalidateRuntime drops the compiled graph; the next turn rebuilds it.
func (s *Service) InvalidateRuntime() { s.runtime.Invalidate() }

// buildExecutor compiles the graph against a fresh checkpoint handle.
func (s *Service) buildExecutor() (*graph.Executor[*State], error) {
	store, err := s.newStore()
	if err != nil {
		return nil, err
	}

	g := graph.New[*State]()
	g.AddNode(NodeRouter, s.routerNode)
	g.AddNode(NodeFastChat, s.fastChatNode)
	g.AddNode(NodeAgent, s.agentNode)
	g.AddNode(NodePickOneTool, s.pickOneToolNode)
	g.AddNode(NodeRunOneTool, s.runOneToolNode)
	g.AddNode(NodeStatus, s.statusNode)

	g.AddEdge(graph.Start, NodeRouter)
	g.AddConditionalEdge(NodeRouter, func(st *State) string {
		if st.Intent == IntentTask {
			return NodeAgent
		}
		return NodeFastChat
	})
	g.AddEdge(NodeFastChat, graph.End)
	g.AddConditionalEdge(NodeAgent, s.shouldContinue)
	g.AddEdge(NodePickOneTool, NodeRunOneTool)
	g.AddEdge(NodeRunOneTool, NodeStatus)
	g.AddEdge(NodeStatus, NodeAgent)

	return graph.NewExecutor(g, Reduce, store, NewState)
}

// shouldContinue decides whether the agent loops into tool execution.
func (s *Service) shouldContinue(st *State) string {
	last := st.LastAssistant()
	if last == nil || !last.HasToolCalls() {
		return graph.End
	}
	if st.ToolCallCount >= s.cfg.Agent.MaxToolCalls {
		return graph.End
	}
	return NodePickOneTool
}
