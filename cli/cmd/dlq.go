package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/helm-app/landregistry/cli/internal/client"
	"github.com/helm-app/landregistry/cli/pkg/output"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered submissions",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered submissions, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		profile := activeProfile(cmd)
		list, err := client.NewConsumerClient(profile.ConsumerURL, profile.Token).ListDeadLetters(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		return output.Print(outputFormat(cmd), list, func() {
			if list.Stats.Error != "" {
				output.Warn("DLQ stats unavailable: %s", list.Stats.Error)
			}
			if len(list.Entries) == 0 {
				output.Info("Dead letter queue is empty")
				return
			}
			table := output.NewTable([]string{"SEQ", "SUBMISSION", "REASON", "ATTEMPTS", "SIZE", "TIME", "ERROR"})
			for _, e := range list.Entries {
				table.AddRow([]string{
					strconv.FormatUint(e.Sequence, 10),
					e.SubmissionID,
					e.Reason,
					strconv.Itoa(e.Attempts),
					strconv.Itoa(e.Size),
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Error,
				})
			}
			table.Render()
			output.Info("%d messages (%d bytes) in the dead letter stream", list.Stats.Messages, list.Stats.Bytes)
		})
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)

	dlqListCmd.Flags().Int("limit", 50, "maximum entries to show")
}
