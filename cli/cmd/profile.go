package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helm-app/landregistry/cli/internal/config"
	"github.com/helm-app/landregistry/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		p := config.Profile{}
		if existing, err := cfg.GetProfile(name); err == nil {
			p = *existing
		}
		if v, _ := cmd.Flags().GetString("producer-url"); v != "" {
			p.ProducerURL = v
		}
		if v, _ := cmd.Flags().GetString("consumer-url"); v != "" {
			p.ConsumerURL = v
		}
		if v, _ := cmd.Flags().GetString("token"); v != "" {
			p.Token = v
		}

		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved", name)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := cfg.Names()
		masked := make(map[string]config.Profile, len(names))
		for _, name := range names {
			p := cfg.Resolve(name)
			if p.Token != "" {
				p.Token = "***"
			}
			masked[name] = p
		}

		return output.Print(outputFormat(cmd), masked, func() {
			table := output.NewTable([]string{"", "NAME", "PRODUCER", "CONSUMER", "TOKEN"})
			for _, name := range names {
				p := masked[name]
				current, token := "", ""
				if name == cfg.CurrentProfile {
					current = "*"
				}
				if p.Token != "" {
					token = "set"
				}
				table.AddRow([]string{current, name, p.ProducerURL, p.ConsumerURL, token})
			}
			table.Render()
		})
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)
}
