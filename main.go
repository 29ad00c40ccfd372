// supportbot is an LLM tool-calling agent for a customer-support helpdesk.
package main

import (
	"fmt"
	"os"

	"github.com/linanwx/supportbot/cmd"
	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}
	workspace, _ := cfg.WorkspacePath()
	if err := logger.Init(cfg.BuildLoggerConfig(), workspace); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}
	cmd.Execute()
}
