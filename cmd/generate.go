package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/store"
)

var (
	generateThread  string
	generateSubject string
	generateMessage string
	providerFlag    string
	modelFlag       string
	apiKeyFlag      string
	apiBaseFlag     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the agent on a thread until it finalizes",
	Long: `Run the agent on one thread to completion and print the resulting actions
and the latest draft reply.

A thread with no persisted actions is seeded from --subject and -m. A thread
that already has actions resumes from its persisted log.

Use --provider, --model, --api-key, --api-base to override config at runtime.

Examples:
  supportbot generate --thread t1 --subject "Cannot log in" -m "Password reset did not help"
  supportbot generate --thread t1 --provider anthropic --model claude-haiku-4-5`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateThread, "thread", "", "Thread ID")
	generateCmd.Flags().StringVar(&generateSubject, "subject", "", "Subject of the opening email")
	generateCmd.Flags().StringVarP(&generateMessage, "message", "m", "", "Body of the opening email")
	generateCmd.Flags().StringVar(&providerFlag, "provider", "", "Override provider (openai, openrouter, deepseek, anthropic)")
	generateCmd.Flags().StringVar(&modelFlag, "model", "", "Override model type (e.g. gpt-4o-mini)")
	generateCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "Override API key")
	generateCmd.Flags().StringVar(&apiBaseFlag, "api-base", "", "Override API base URL")
	_ = generateCmd.MarkFlagRequired("thread")
	rootCmd.AddCommand(generateCmd)
}

// applyAgentOverrides mutates cfg with the provider flags. Workers run
// in-process so the overrides reach them.
func applyAgentOverrides(cfg *config.Config) error {
	if providerFlag != "" {
		cfg.Agent.Provider = providerFlag
		cfg.Agent.ModelName = ""
	}
	if modelFlag != "" {
		cfg.Agent.ModelType = modelFlag
		cfg.Agent.ModelName = ""
	}
	if apiKeyFlag != "" {
		if err := cfg.SetProviderAPIKey(cfg.Agent.Provider, apiKeyFlag); err != nil {
			return err
		}
	}
	if apiBaseFlag != "" {
		if pc := cfg.ProviderConfigFor(cfg.Agent.Provider); pc != nil {
			pc.APIBase = apiBaseFlag
		} else {
			return fmt.Errorf("--api-base needs a configured provider section for %s", cfg.Agent.Provider)
		}
	}
	return nil
}

func runGenerate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'supportbot onboard' to initialize", err)
	}
	if err := applyAgentOverrides(cfg); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var seed []event.Event
	if strings.TrimSpace(generateMessage) != "" {
		e, err := event.New(event.TypeThreadStarted, event.ActorCustomer, event.ThreadStarted{
			Subject: generateSubject,
			Body:    generateMessage,
		})
		if err != nil {
			return err
		}
		seed = append(seed, e)
	}

	pool := buildPool(cfg, st, true)
	defer pool.Close()

	ctx := context.Background()
	events, err := pool.Generate(ctx, generateThread, seed)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	list, err := st.ListActions(ctx, generateThread)
	if err != nil {
		return err
	}
	fmt.Printf("thread %s: %d events\n\n", generateThread, len(events))
	for _, a := range list {
		fmt.Printf("%3d  %-20s %s\n", a.Seq, a.Action, a.Description)
	}

	draft, err := st.LatestDraft(ctx, generateThread)
	switch {
	case err == nil:
		fmt.Println("\nDraft reply:")
		fmt.Println(draft.Body)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}
