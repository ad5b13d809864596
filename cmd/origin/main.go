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

// Command origin is the note-assistant backend.
//
// Usage:
//
//	origin serve --config config.yaml
//	origin validate --config config.yaml
//	origin version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/kadirpekel/origin/pkg/agent"
	"github.com/kadirpekel/origin/pkg/checkpoint"
	"github.com/kadirpekel/origin/pkg/config"
	"github.com/kadirpekel/origin/pkg/knowledge"
	"github.com/kadirpekel/origin/pkg/llms"
	"github.com/kadirpekel/origin/pkg/logger"
	"github.com/kadirpekel/origin/pkg/notes"
	"github.com/kadirpekel/origin/pkg/server"
	"github.com/kadirpekel/origin/pkg/tools"
)

var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("origin %s\n", version)
	return nil
}

// ValidateCmd loads and validates the configuration.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Println("Configuration is valid.")
	return nil
}

// ServeCmd runs the HTTP server.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := config.NewDBPool()
	defer func() { _ = pool.Close() }()

	db, err := pool.Get(cfg.Database)
	if err != nil {
		return err
	}

	noteStore, err := notes.NewSQLStore(db, cfg.Database.Driver)
	if err != nil {
		return err
	}

	llmManager, err := llms.NewManager(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = llmManager.Close() }()

	index, err := knowledge.NewIndex(cfg.Knowledge, activeEmbedder{llmManager})
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	tools.RegisterNoteTools(registry, &tools.Deps{
		Store:    noteStore,
		Index:    index,
		Provider: func() llms.Provider { return llmManager.Active() },
	})

	service := agent.NewService(cfg, llmManager, registry, noteStore, func() (checkpoint.Store, error) {
		return checkpoint.NewSQLStore(db, cfg.Database.Driver)
	})

	watchConfig(ctx, cli.Config, service)

	slog.Info("Starting origin", "version", version, "config", cfg.Name, "provider", llmManager.Active().Name())
	return server.New(cfg, service).ListenAndServe(ctx)
}

// activeEmbedder embeds through whichever provider is currently active.
type activeEmbedder struct {
	manager *llms.Manager
}

func (e activeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.manager.Active().Embed(ctx, texts)
}

// watchConfig invalidates the graph runtime when the config file changes;
// the next turn rebuilds against the updated configuration.
func watchConfig(ctx context.Context, path string, service *agent.Service) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Config watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		slog.Warn("Config watcher cannot watch file", "path", path, "error", err)
		_ = watcher.Close()
		return
	}
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					slog.Info("Config changed, invalidating agent runtime", "path", ev.Name)
					service.InvalidateRuntime()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			}
		}
	}()
}

func main() {
	_ = godotenv.Load()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("origin"),
		kong.Description("Checkpointed ReAct note assistant backend."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		slog.Error("Fatal", "error", err)
		os.Exit(1)
	}
}
