package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helm-app/landregistry/cli/internal/config"
	"github.com/helm-app/landregistry/cli/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "landctl",
	Short: "Land registry relay CLI",
	Long: `landctl is the operator CLI for the land-title registration relay.

Submit registrations to the producer, browse stored registrations and
dead-lettered submissions on the consumer, and seed test data.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $LANDCTL_CONFIG or $HOME/.landctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", output.FormatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("producer-url", "", "producer base URL (overrides profile)")
	rootCmd.PersistentFlags().String("consumer-url", "", "consumer base URL (overrides profile)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (overrides profile)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// activeProfile resolves the selected profile and applies flag overrides.
func activeProfile(cmd *cobra.Command) config.Profile {
	name, _ := cmd.Flags().GetString("profile")
	p := cfg.Resolve(name)

	if v, _ := cmd.Flags().GetString("producer-url"); v != "" {
		p.ProducerURL = v
	}
	if v, _ := cmd.Flags().GetString("consumer-url"); v != "" {
		p.ConsumerURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		p.Token = v
	}
	return p
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
