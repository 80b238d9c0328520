package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/aidrin/cmd/cli/commands"
	"github.com/inferloop/aidrin/cmd/cli/config"
	"github.com/inferloop/aidrin/pkg/constants"
)

func main() {
	// Execute
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	var cfgFile string
	settings := &commands.Settings{}

	rootCmd := &cobra.Command{
		Use:   "aidrin-cli",
		Short: "AI data readiness privacy-risk CLI",
		Long: `A command-line interface for measuring the privacy risk of a dataset:
k-anonymity, l-diversity, t-closeness, entropy risk and Markov
re-identification risk scores.`,
		Version:       constants.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			settings.Config = cfg
			if settings.Verbose && cfgFile != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", cfgFile)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aidrin/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Verbose, "verbose", "v", false, "verbose output")

	// Add commands
	rootCmd.AddCommand(commands.NewPrivacyCmd(settings))
	rootCmd.AddCommand(commands.NewRiskCmd(settings))
	rootCmd.AddCommand(commands.NewMigrateCmd(settings))

	return rootCmd
}
