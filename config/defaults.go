package config

const (
	defaultProvider        = "openai"
	defaultModelType       = "gpt-4o-mini"
	defaultMaxTokens       = 1024
	defaultTemperature     = 0.2
	defaultMaxIterations   = 25
	defaultTerminalTool    = "finalize"
	defaultMaxRestarts     = 3
	defaultRestartDelayMs  = 1000
	defaultStopTimeoutSec  = 5
	defaultRequestTimeout  = 30
	defaultGenerateTimeout = 120
	defaultJanitorSpec     = "@every 5m"
	defaultStorePath       = "supportbot.db"
	defaultServerAddr      = "127.0.0.1:8080"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	restart := true
	return &Config{
		Agent: AgentConfig{
			Provider:      defaultProvider,
			ModelType:     defaultModelType,
			MaxTokens:     defaultMaxTokens,
			Temperature:   defaultTemperature,
			MaxIterations: defaultMaxIterations,
			TerminalTool:  defaultTerminalTool,
		},
		Providers: ProvidersConfig{
			OpenAI: &ProviderConfig{
				APIKey: "",
			},
		},
		Supervisor: SupervisorConfig{
			RestartOnError:  &restart,
			MaxRestarts:     defaultMaxRestarts,
			RestartDelayMs:  defaultRestartDelayMs,
			StopTimeoutSec:  defaultStopTimeoutSec,
			RequestTimeout:  defaultRequestTimeout,
			GenerateTimeout: defaultGenerateTimeout,
			JanitorSpec:     defaultJanitorSpec,
		},
		Store: StoreConfig{
			Path: defaultStorePath,
		},
		Server: ServerConfig{
			Addr: defaultServerAddr,
		},
		Logging: defaultLoggingConfig(),
	}
}

func defaultLoggingConfig() LoggingConfig {
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  true,
		File:    "logs/supportbot.log",
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.Provider == "" {
		c.Agent.Provider = defaultProvider
	}
	if c.Agent.ModelType == "" {
		c.Agent.ModelType = defaultModelType
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = defaultMaxTokens
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = defaultTemperature
	}
	// MaxIterations == 0 is an explicit "no cap"; only negatives are reset.
	if c.Agent.MaxIterations < 0 {
		c.Agent.MaxIterations = defaultMaxIterations
	}
	if c.Agent.TerminalTool == "" {
		c.Agent.TerminalTool = defaultTerminalTool
	}

	if c.Supervisor.RestartOnError == nil {
		restart := true
		c.Supervisor.RestartOnError = &restart
	}
	if c.Supervisor.MaxRestarts <= 0 {
		c.Supervisor.MaxRestarts = defaultMaxRestarts
	}
	if c.Supervisor.RestartDelayMs <= 0 {
		c.Supervisor.RestartDelayMs = defaultRestartDelayMs
	}
	if c.Supervisor.StopTimeoutSec <= 0 {
		c.Supervisor.StopTimeoutSec = defaultStopTimeoutSec
	}
	if c.Supervisor.RequestTimeout <= 0 {
		c.Supervisor.RequestTimeout = defaultRequestTimeout
	}
	if c.Supervisor.GenerateTimeout <= 0 {
		c.Supervisor.GenerateTimeout = defaultGenerateTimeout
	}
	if c.Supervisor.JanitorSpec == "" {
		c.Supervisor.JanitorSpec = defaultJanitorSpec
	}

	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}

	def := defaultLoggingConfig()
	if c.Logging == (LoggingConfig{}) {
		c.Logging = def
		return
	}

	hasAny := c.Logging.Level != "" || c.Logging.File != "" || c.Logging.Stdout
	if c.Logging.Enabled == nil && hasAny {
		enabled := true
		c.Logging.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.File
	}
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
}
