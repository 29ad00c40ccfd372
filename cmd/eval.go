package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/eval"
)

var (
	evalScenarios string
	evalProvider  string
	evalModel     string
	evalContext   string
	evalJSON      bool
	evalNoBuiltin bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score models on fixed helpdesk scenarios",
	Long: `Replay fixed thread histories against one or more models and score the
single tool call each returns against the expected one.

A test passes when the tool name matches and every argument key the model
used also appears in the expectation. Exact argument equality is reported
but not required.

Models come from --provider/--model, else eval.models in config, else the
agent's provider and model under every context generator.

Examples:
  supportbot eval
  supportbot eval --scenarios ./scenarios
  supportbot eval --provider anthropic --model claude-haiku-4-5 --context compact
  supportbot eval --json > report.json`,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalScenarios, "scenarios", "", "Scenario YAML file or directory (default from config)")
	evalCmd.Flags().StringVar(&evalProvider, "provider", "", "Provider to evaluate")
	evalCmd.Flags().StringVar(&evalModel, "model", "", "Model type to evaluate")
	evalCmd.Flags().StringVar(&evalContext, "context", "", "Context generator (transcript, compact)")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "Print the report as JSON")
	evalCmd.Flags().BoolVar(&evalNoBuiltin, "no-builtin", false, "Skip the built-in scenarios")
	rootCmd.AddCommand(evalCmd)
}

func runEval(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	scenarios, err := loadEvalScenarios(cfg)
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no scenarios to run")
	}

	configs, err := buildEvalConfigs(cfg)
	if err != nil {
		return err
	}

	report := eval.Run(context.Background(), scenarios, configs)
	if evalJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.Write(os.Stdout)
}

func loadEvalScenarios(cfg *config.Config) ([]eval.Scenario, error) {
	var out []eval.Scenario
	if !evalNoBuiltin {
		builtin, err := eval.BuiltinScenarios()
		if err != nil {
			return nil, err
		}
		out = append(out, builtin...)
	}
	path := strings.TrimSpace(evalScenarios)
	if path == "" {
		path = cfg.Eval.ScenariosDir
	}
	if path != "" {
		loaded, err := eval.LoadScenarios(path)
		if err != nil {
			return nil, fmt.Errorf("load scenarios: %w", err)
		}
		out = append(out, loaded...)
	}
	return out, nil
}

func buildEvalConfigs(cfg *config.Config) ([]eval.Config, error) {
	var models []config.EvalModelConfig
	switch {
	case evalProvider != "" || evalModel != "":
		p := evalProvider
		if p == "" {
			p = cfg.Agent.Provider
		}
		m := evalModel
		if m == "" {
			m = cfg.Agent.ModelType
		}
		models = append(models, config.EvalModelConfig{Provider: p, ModelType: m, Context: evalContext})
	case len(cfg.Eval.Models) > 0:
		models = cfg.Eval.Models
	default:
		for _, name := range []string{"transcript", "compact"} {
			models = append(models, config.EvalModelConfig{Provider: cfg.Agent.Provider, ModelType: cfg.Agent.ModelType, Context: name})
		}
	}

	out := make([]eval.Config, 0, len(models))
	for _, m := range models {
		gw, err := newGateway(cfg, m.Provider, m.ModelType, "")
		if err != nil {
			return nil, fmt.Errorf("eval model %s/%s: %w", m.Provider, m.ModelType, err)
		}
		ctxName := m.Context
		if evalContext != "" {
			ctxName = evalContext
		}
		gen, err := contextGenerator(ctxName)
		if err != nil {
			return nil, err
		}
		out = append(out, eval.Config{
			Name:         m.Provider + "/" + m.ModelType,
			Gateway:      gw,
			Context:      gen,
			TerminalTool: cfg.Agent.TerminalTool,
		})
	}
	return out, nil
}
