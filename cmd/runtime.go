package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linanwx/supportbot/agent"
	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/kb"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/provider"
	"github.com/linanwx/supportbot/store"
	"github.com/linanwx/supportbot/supervisor"
	"github.com/linanwx/supportbot/tools"
	"github.com/linanwx/supportbot/worker"
)

const knowledgeBaseDirName = "kb"

// newGateway builds a gateway for providerName/modelType. apiKey overrides
// the configured key; the provider's env var is the last fallback.
func newGateway(cfg *config.Config, providerName, modelType, apiKey string) (provider.Gateway, error) {
	if err := provider.ValidateProviderModelType(providerName, modelType); err != nil {
		return nil, err
	}
	s := provider.Settings{
		APIKey:      strings.TrimSpace(apiKey),
		ModelType:   modelType,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}
	if providerName == cfg.Agent.Provider && modelType == cfg.Agent.ModelType {
		s.ModelName = cfg.Agent.ModelName
	}
	if pc := cfg.ProviderConfigFor(providerName); pc != nil {
		if s.APIKey == "" {
			s.APIKey = pc.APIKey
		}
		s.APIBase = pc.APIBase
	}
	return provider.New(providerName, s)
}

// providerAPIKey is the key forwarded to workers in the start message.
func providerAPIKey(cfg *config.Config) string {
	if pc := cfg.ProviderConfigFor(cfg.Agent.Provider); pc != nil && pc.APIKey != "" {
		return pc.APIKey
	}
	if env := provider.EnvKeyFor(cfg.Agent.Provider); env != "" {
		return os.Getenv(env)
	}
	return ""
}

var (
	kbOnce  sync.Once
	kbIndex *kb.Index
)

// knowledgeBase loads the HTML article index once per process.
func knowledgeBase(cfg *config.Config) *kb.Index {
	kbOnce.Do(func() {
		dir := cfg.KnowledgeBase.Dir
		if dir == "" {
			ws, err := cfg.WorkspacePath()
			if err != nil {
				logger.Warn("knowledge base disabled", "err", err)
				kbIndex = kb.New()
				return
			}
			dir = filepath.Join(ws, knowledgeBaseDirName)
		}
		idx, err := kb.LoadDir(dir)
		if err != nil {
			logger.Warn("failed to load knowledge base", "dir", dir, "err", err)
			idx = kb.New()
		}
		logger.Info("knowledge base loaded", "dir", dir, "articles", idx.Len())
		kbIndex = idx
	})
	return kbIndex
}

func contextGenerator(name string) (agent.ContextGenerator, error) {
	if name == "" {
		name = "transcript"
	}
	gen, ok := agent.ContextGenerators()[name]
	if !ok {
		return nil, fmt.Errorf("unknown context generator: %s", name)
	}
	return gen, nil
}

func buildWorkerConfig(cfg *config.Config, threadID string) (worker.Config, error) {
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return worker.Config{}, fmt.Errorf("failed to get workspace: %w", err)
	}
	gen, err := contextGenerator("")
	if err != nil {
		return worker.Config{}, err
	}
	index := knowledgeBase(cfg)

	return worker.Config{
		ThreadID: threadID,
		NewGateway: func(apiKey string) (provider.Gateway, error) {
			return newGateway(cfg, cfg.Agent.Provider, cfg.Agent.ModelType, apiKey)
		},
		NewTools:       func() *tools.Registry { return tools.NewSupportRegistry(index) },
		Context:        gen,
		Workspace:      workspace,
		TerminalTool:   cfg.Agent.TerminalTool,
		MaxIterations:  cfg.Agent.MaxIterations,
		RequestTimeout: cfg.Supervisor.RequestTimeoutDuration(),
	}, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return store.Open(path)
}

func buildSpawner(cfg *config.Config, inProcess bool) supervisor.Spawner {
	if inProcess {
		return &supervisor.InProcessSpawner{
			Run: func(ctx context.Context, threadID string, in io.Reader, out io.Writer) error {
				wc, err := buildWorkerConfig(cfg, threadID)
				if err != nil {
					return err
				}
				return worker.New(wc, in, out).Run(ctx)
			},
		}
	}
	var extra []string
	if configDirFlag != "" {
		extra = append(extra, "--config-dir", configDirFlag)
	}
	return supervisor.NewProcessSpawner(extra...)
}

func buildPool(cfg *config.Config, st *store.Store, inProcess bool) *supervisor.Pool {
	sc := cfg.Supervisor
	return supervisor.NewPool(supervisor.PoolConfig{
		Supervisor: supervisor.Config{
			RestartOnError: sc.RestartEnabled(),
			MaxRestarts:    sc.MaxRestarts,
			RestartDelay:   sc.RestartDelay(),
			StopTimeout:    sc.StopTimeout(),
			ProviderAPIKey: providerAPIKey(cfg),
		},
		GenerateTimeout: sc.GenerateTimeoutDuration(),
		JanitorSpec:     sc.JanitorSpec,
	}, buildSpawner(cfg, inProcess || sc.InProcess), st)
}
