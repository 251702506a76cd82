package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivehq/hive/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up Hive.
The wizard will guide you through configuring API keys, the default model,
and the trigger server. Edit the saved file afterwards to define the agent
graph.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	// Create wizard
	wizard := config.NewWizard()

	// Run wizard
	cfg, err := wizard.Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	// Save configuration. Full validation happens at start, once the agent
	// graph has been filled in.
	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath := loader.GetConfigPath()
	fmt.Printf("\nConfiguration saved to: %s\n", configPath)
	fmt.Println("\nDefine the agent graph in the config file, then start Hive with: hived start")

	return nil
}
