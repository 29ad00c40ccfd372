// Package config handles configuration loading and saving.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/linanwx/supportbot/logger"
)

const (
	configFileName = "config.yaml"
)

var configDirOverride string

// SetConfigDir overrides the config directory for the current process.
// Empty value clears the override.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	Agent         AgentConfig         `json:"agent" yaml:"agent"`
	Providers     ProvidersConfig     `json:"providers" yaml:"providers"`
	Supervisor    SupervisorConfig    `json:"supervisor" yaml:"supervisor"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	KnowledgeBase KnowledgeBaseConfig `json:"knowledgeBase,omitempty" yaml:"knowledgeBase,omitempty"`
	Server        ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`
	Eval          EvalConfig          `json:"eval,omitempty" yaml:"eval,omitempty"`
	Logging       LoggingConfig       `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// AgentConfig contains agent loop and model defaults.
type AgentConfig struct {
	Provider      string  `json:"provider" yaml:"provider"` // openai, openrouter, deepseek, anthropic
	ModelType     string  `json:"modelType" yaml:"modelType"`
	ModelName     string  `json:"modelName,omitempty" yaml:"modelName,omitempty"` // optional, defaults to modelType
	Workspace     string  `json:"workspace,omitempty" yaml:"workspace,omitempty"` // defaults to ~/.supportbot
	MaxTokens     int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"` // 0 disables the cap
	TerminalTool  string  `json:"terminalTool,omitempty" yaml:"terminalTool,omitempty"`   // defaults to finalize
}

// ProvidersConfig contains provider API configurations.
type ProvidersConfig struct {
	OpenAI     *ProviderConfig `json:"openai,omitempty" yaml:"openai,omitempty"`
	OpenRouter *ProviderConfig `json:"openrouter,omitempty" yaml:"openrouter,omitempty"`
	DeepSeek   *ProviderConfig `json:"deepseek,omitempty" yaml:"deepseek,omitempty"`
	Anthropic  *ProviderConfig `json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
}

// ProviderConfig contains API credentials for a provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"` // optional custom base URL
}

// SupervisorConfig controls worker lifecycle and restart policy.
type SupervisorConfig struct {
	RestartOnError  *bool  `json:"restartOnError,omitempty" yaml:"restartOnError,omitempty"`
	MaxRestarts     int    `json:"maxRestarts,omitempty" yaml:"maxRestarts,omitempty"`
	RestartDelayMs  int    `json:"restartDelayMs,omitempty" yaml:"restartDelayMs,omitempty"`
	StopTimeoutSec  int    `json:"stopTimeoutSec,omitempty" yaml:"stopTimeoutSec,omitempty"`
	RequestTimeout  int    `json:"requestTimeoutSec,omitempty" yaml:"requestTimeoutSec,omitempty"`   // worker-side bridge wait
	GenerateTimeout int    `json:"generateTimeoutSec,omitempty" yaml:"generateTimeoutSec,omitempty"` // HTTP generate wrapper
	InProcess       bool   `json:"inProcess,omitempty" yaml:"inProcess,omitempty"`                   // run workers as goroutines
	JanitorSpec     string `json:"janitorSpec,omitempty" yaml:"janitorSpec,omitempty"`               // cron spec for idle eviction
}

// StoreConfig contains persistence settings.
type StoreConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // relative paths resolve under the workspace
}

// KnowledgeBaseConfig points at a directory of HTML help-center articles.
type KnowledgeBaseConfig struct {
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // default: 127.0.0.1:8080
}

// EvalConfig contains eval harness defaults.
type EvalConfig struct {
	ScenariosDir string            `json:"scenariosDir,omitempty" yaml:"scenariosDir,omitempty"`
	Models       []EvalModelConfig `json:"models,omitempty" yaml:"models,omitempty"`
}

// EvalModelConfig names one provider/model pair to evaluate.
type EvalModelConfig struct {
	Provider  string `json:"provider" yaml:"provider"`
	ModelType string `json:"modelType" yaml:"modelType"`
	Context   string `json:"context,omitempty" yaml:"context,omitempty"` // context generator name
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Stdout  bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"` // log to stdout
	File    string `json:"file,omitempty" yaml:"file,omitempty"`     // log file path
}

// BuildLoggerConfig converts logging settings to a logger.Config.
func (c *Config) BuildLoggerConfig() logger.Config {
	enabled := true
	if c.Logging.Enabled != nil {
		enabled = *c.Logging.Enabled
	}
	return logger.Config{
		Enabled: enabled,
		Level:   c.Logging.Level,
		Stdout:  c.Logging.Stdout,
		File:    c.Logging.File,
	}
}

// RestartEnabled reports whether crashed workers are restarted automatically.
func (s SupervisorConfig) RestartEnabled() bool {
	return s.RestartOnError == nil || *s.RestartOnError
}

// RestartDelay returns the pause between a crash and the restart attempt.
func (s SupervisorConfig) RestartDelay() time.Duration {
	return time.Duration(s.RestartDelayMs) * time.Millisecond
}

// StopTimeout returns how long Stop waits for a cooperative exit.
func (s SupervisorConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSec) * time.Second
}

// RequestTimeoutDuration returns the worker-side wait for a correlated reply.
func (s SupervisorConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// GenerateTimeoutDuration returns the outer timeout for a draft generation.
func (s SupervisorConfig) GenerateTimeoutDuration() time.Duration {
	return time.Duration(s.GenerateTimeout) * time.Second
}

// ProviderConfigFor returns the configured credentials for a provider name.
func (c *Config) ProviderConfigFor(name string) *ProviderConfig {
	switch name {
	case "openai":
		return c.Providers.OpenAI
	case "openrouter":
		return c.Providers.OpenRouter
	case "deepseek":
		return c.Providers.DeepSeek
	case "anthropic":
		return c.Providers.Anthropic
	default:
		return nil
	}
}

// SetProviderAPIKey stores an API key for a provider, creating its section.
func (c *Config) SetProviderAPIKey(name, key string) error {
	pc := c.ProviderConfigFor(name)
	if pc == nil {
		pc = &ProviderConfig{}
		switch name {
		case "openai":
			c.Providers.OpenAI = pc
		case "openrouter":
			c.Providers.OpenRouter = pc
		case "deepseek":
			c.Providers.DeepSeek = pc
		case "anthropic":
			c.Providers.Anthropic = pc
		default:
			return fmt.Errorf("unknown provider: %s", name)
		}
	}
	pc.APIKey = key
	return nil
}
