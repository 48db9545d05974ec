package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/helm-app/landregistry/cli/internal/client"
	"github.com/helm-app/landregistry/cli/pkg/output"
)

var registrationsCmd = &cobra.Command{
	Use:     "registrations",
	Aliases: []string{"reg"},
	Short:   "Browse stored registrations",
	Long:    "Query registrations stored by the consumer",
}

var registrationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registrations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")

		profile := activeProfile(cmd)
		result, err := client.NewConsumerClient(profile.ConsumerURL, profile.Token).ListRegistrations(cmd.Context(), page, limit)
		if err != nil {
			return fmt.Errorf("failed to list registrations: %w", err)
		}

		return output.Print(outputFormat(cmd), result, func() {
			if len(result.Registrations) == 0 {
				output.Info("No registrations found")
				return
			}
			table := output.NewTable([]string{"ID", "SUBMISSION", "OWNER", "TITLE NUMBER", "LOCATION", "STATUS", "FILES", "RECEIVED"})
			for _, r := range result.Registrations {
				table.AddRow([]string{
					strconv.FormatInt(r.ID, 10),
					r.SubmissionID,
					r.OwnerName,
					r.TitleNumber,
					r.PropertyLocation,
					string(r.Status),
					strconv.Itoa(r.AttachmentCount),
					r.ReceivedAt.Format("2006-01-02 15:04"),
				})
			}
			table.Render()
			output.Info("Page %d, showing %d of %d", result.Pagination.Page, len(result.Registrations), result.Pagination.Total)
		})
	},
}

var registrationsGetCmd = &cobra.Command{
	Use:   "get [submission-id]",
	Short: "Show one registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := activeProfile(cmd)
		reg, err := client.NewConsumerClient(profile.ConsumerURL, profile.Token).GetRegistration(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get registration: %w", err)
		}

		return output.Print(outputFormat(cmd), reg, func() { printRegistration(reg) })
	},
}

func printRegistration(r *client.Registration) {
	table := output.NewTable([]string{"FIELD", "VALUE"})
	rows := [][2]string{
		{"Submission", r.SubmissionID},
		{"Owner", r.OwnerName},
		{"Contact", r.ContactNo},
		{"Email", r.EmailAddress},
		{"Address", r.Address},
		{"Title number", r.TitleNumber},
		{"Survey number", r.SurveyNumber},
		{"Location", r.PropertyLocation},
		{"Lot", r.LotNumber.String()},
		{"Area (sqm)", r.AreaSize.String()},
		{"Classification", string(r.Classification)},
		{"Registered", r.RegistrationDate},
		{"Registrar", r.RegistrarOffice},
		{"Previous title", r.PreviousTitleNumber},
		{"Encumbrances", r.Encumbrances},
		{"Status", string(r.Status)},
	}
	for _, row := range rows {
		table.AddRow(row[:])
	}
	table.Render()

	if len(r.Attachments) == 0 {
		return
	}
	fmt.Fprintln(output.Out)
	files := output.NewTable([]string{"#", "NAME", "TYPE", "SIZE", "OBJECT"})
	for _, a := range r.Attachments {
		files.AddRow([]string{strconv.Itoa(a.Position), a.OriginalName, a.ContentType, strconv.FormatInt(a.Size, 10), a.ObjectKey})
	}
	files.Render()
}

func init() {
	rootCmd.AddCommand(registrationsCmd)
	registrationsCmd.AddCommand(registrationsListCmd)
	registrationsCmd.AddCommand(registrationsGetCmd)

	registrationsListCmd.Flags().Int("page", 1, "page number")
	registrationsListCmd.Flags().Int("limit", 20, "registrations per page")
}
