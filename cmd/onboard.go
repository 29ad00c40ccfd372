package cmd

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/agent"
	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/provider"
)

//go:embed templates/*
var templateFS embed.FS

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize supportbot configuration and workspace",
	Long:  `Create the supportbot configuration directory, default config file, playbook and a sample knowledge base.`,
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

// providerURLs maps provider names to their API key portal URLs.
var providerURLs = map[string]string{
	"openai":     "https://platform.openai.com/api-keys",
	"openrouter": "https://openrouter.ai/keys",
	"deepseek":   "https://platform.deepseek.com",
	"anthropic":  "https://console.anthropic.com",
}

func runOnboard(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config already exists at:", configPath)
		fmt.Println("To reconfigure, edit the file directly or delete it first.")
		return nil
	}

	var (
		selectedProvider string
		selectedModel    string
		apiKey           string
		kbDir            string
	)

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose your LLM provider").
				Description("The agent asks this provider for one tool call per step.").
				Options(buildProviderOptions()...).
				Value(&selectedProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose model for "+selectedProvider).
				Options(buildModelOptions(selectedProvider)...).
				Value(&selectedModel),
			huh.NewInput().
				Title("Enter your "+selectedProvider+" API key").
				Description("Create one at "+providerURLs[selectedProvider]).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("API key is required")
					}
					return nil
				}).
				Value(&apiKey),
			huh.NewInput().
				Title("Knowledge base directory").
				Description("Folder of HTML help-center articles. Leave empty to use the workspace kb/ folder.").
				Value(&kbDir),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = selectedProvider
	cfg.Agent.ModelType = selectedModel
	if err := cfg.SetProviderAPIKey(selectedProvider, strings.TrimSpace(apiKey)); err != nil {
		return err
	}
	cfg.KnowledgeBase.Dir = strings.TrimSpace(kbDir)

	configDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return err
	}
	if err := createBootstrapFiles(workspace); err != nil {
		return fmt.Errorf("failed to create bootstrap files: %w", err)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("supportbot initialized successfully!")
	fmt.Println()
	fmt.Println("  Config:", configPath)
	fmt.Println("  Workspace:", workspace)
	fmt.Println("  Provider:", selectedProvider)
	fmt.Println("  Model:", selectedModel)
	fmt.Println()
	fmt.Println("Run 'supportbot serve' to start, or 'supportbot eval' to score the model.")
	return nil
}

func buildProviderOptions() []huh.Option[string] {
	names := provider.SupportedProviders()
	options := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		models := provider.SupportedModelsForProvider(name)
		label := name + " (" + strings.Join(models, ", ") + ")"
		options = append(options, huh.NewOption(label, name))
	}
	return options
}

func buildModelOptions(providerName string) []huh.Option[string] {
	models := provider.SupportedModelsForProvider(providerName)
	options := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		options = append(options, huh.NewOption(m, m))
	}
	return options
}

// writeTemplate writes an embedded template file to the workspace,
// skipping if the file already exists.
func writeTemplate(workspace, templateName, destName string) error {
	destPath := filepath.Join(workspace, destName)
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}
	data, err := templateFS.ReadFile("templates/" + templateName)
	if err != nil {
		return fmt.Errorf("read embedded template %s: %w", templateName, err)
	}
	return os.WriteFile(destPath, data, 0644)
}

func createBootstrapFiles(workspace string) error {
	if err := os.MkdirAll(filepath.Join(workspace, knowledgeBaseDirName), 0755); err != nil {
		return err
	}
	if err := writeTemplate(workspace, "PLAYBOOK.md", agent.PlaybookFile); err != nil {
		return err
	}
	return writeTemplate(workspace, "password-reset.html", filepath.Join(knowledgeBaseDirName, "password-reset.html"))
}
