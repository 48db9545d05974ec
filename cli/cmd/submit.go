package cmd

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helm-app/landregistry/cli/internal/client"
	"github.com/helm-app/landregistry/cli/pkg/output"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a land title registration",
	Long:  "Send one registration with optional attachments to the producer's /register endpoint",
	Example: `  landctl submit --field owner_name="Maria Santos" --field lot_number=12 ... --file deed.pdf
  landctl submit --fields-file record.json --file survey.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("field")
		paths, _ := cmd.Flags().GetStringArray("file")
		fieldsFile, _ := cmd.Flags().GetString("fields-file")

		fields := map[string]string{}
		if fieldsFile != "" {
			loaded, err := readFieldsFile(fieldsFile)
			if err != nil {
				return err
			}
			fields = loaded
		}
		for _, kv := range pairs {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --field %q, expected key=value", kv)
			}
			fields[k] = v
		}
		if len(fields) == 0 {
			return fmt.Errorf("at least one --field or --fields-file is required")
		}

		files := make([]client.File, 0, len(paths))
		for _, p := range paths {
			f, err := readFile(p)
			if err != nil {
				return err
			}
			files = append(files, f)
		}

		profile := activeProfile(cmd)
		resp, err := client.NewProducerClient(profile.ProducerURL, profile.Token).Submit(cmd.Context(), fields, files)
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}

		return output.Print(outputFormat(cmd), resp, func() {
			output.Success("%s (submission %s)", resp.Message, resp.SubmissionID)
		})
	},
}

// readFieldsFile loads a flat JSON object of field values.
func readFieldsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			fields[k] = v
		case nil:
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields, nil
}

func readFile(path string) (client.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.File{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return client.File{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringArrayP("field", "f", nil, "field value as key=value (repeatable)")
	submitCmd.Flags().StringArray("file", nil, "attachment path (repeatable)")
	submitCmd.Flags().String("fields-file", "", "JSON object of field values")
}
