package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewInvokeCommand() *cobra.Command {
	var (
		eventPath    string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run a single invocation locally with configuration from the environment",
		Example: `  host=smtp.example.com port=465 user=me passwd=secret template=$(base64 -w0 invite.html) \
    invite-mailer invoke --event event.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.log.Sync() }()

			payload, err := readEvent(eventPath, cmd.InOrStdin())
			if err != nil {
				return err
			}

			resp, err := rt.newHandler().Handle(cmd.Context(), payload)
			if err != nil {
				return err
			}

			writer := rt.Writer()
			switch outputFormat {
			case "yaml":
				data, err := yaml.Marshal(resp)
				if err != nil {
					return fmt.Errorf("failed to marshal to YAML: %w", err)
				}
				_, _ = fmt.Fprint(writer, string(data))
			default:
				encoder := json.NewEncoder(writer)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(resp); err != nil {
					return err
				}
			}

			if !resp.OK() {
				return fmt.Errorf("invocation failed with status %d: %s", resp.StatusCode, resp.Message())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&eventPath, "event", "e", "-", "Path to the event file (JSON or YAML), or - for stdin")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json, yaml")

	return cmd
}

// readEvent loads an event and returns it as JSON. YAML files (.yaml, .yml)
// are converted; everything else is passed through untouched.
func readEvent(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var event any
		if err := yaml.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to parse YAML event %s: %w", path, err)
		}
		out, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML event %s to JSON: %w", path, err)
		}
		return out, nil
	default:
		return data, nil
	}
}
