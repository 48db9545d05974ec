package cmd

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/helm-app/landregistry/cli/internal/client"
	"github.com/helm-app/landregistry/cli/pkg/output"
	"github.com/helm-app/landregistry/common/landtitle/faketitle"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Submit generated registrations",
	Long: `Generate realistic land title registrations and submit them to the producer.

Every generated record passes validation. Use --seed for a reproducible run.`,
	Example: `  landctl seed --count 100
  landctl seed --count 10 --attachments 3 --seed 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		maxAttachments, _ := cmd.Flags().GetInt("attachments")
		seed, _ := cmd.Flags().GetInt64("seed")
		interval, _ := cmd.Flags().GetDuration("interval")

		if count < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		faker := gofakeit.New(seed)

		profile := activeProfile(cmd)
		producer := client.NewProducerClient(profile.ProducerURL, profile.Token)

		output.Info("Seeding %d registrations to %s (seed %d)", count, profile.ProducerURL, seed)

		var accepted, failed int
		for i := 0; i < count; i++ {
			sub := faketitle.Submission(faker, maxAttachments)

			fields := make(map[string]string)
			for k, v := range faketitle.Raw(sub.Fields) {
				fields[k] = fmt.Sprint(v)
			}
			files := make([]client.File, 0, len(sub.Attachments))
			for _, a := range sub.Attachments {
				files = append(files, client.File{Name: a.OriginalName, ContentType: a.ContentType, Data: a.Data})
			}

			if _, err := producer.Submit(cmd.Context(), fields, files); err != nil {
				failed++
				output.Warn("registration %d failed: %v", i+1, err)
			} else {
				accepted++
			}

			if interval > 0 && i < count-1 {
				time.Sleep(interval)
			}
		}

		if failed > 0 {
			output.Warn("%d accepted, %d failed", accepted, failed)
			return fmt.Errorf("%d of %d submissions failed", failed, count)
		}
		output.Success("%d registrations accepted", accepted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntP("count", "n", 10, "number of registrations to submit")
	seedCmd.Flags().Int("attachments", 2, "maximum attachments per registration")
	seedCmd.Flags().Int64("seed", 0, "random seed (default: time-based)")
	seedCmd.Flags().Duration("interval", 0, "pause between submissions")
}
