package cli

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/symgraph/pkg/integrations"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
)

// statusCommand creates the status command.
func (c *CLI) statusCommand() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status <ecosystem:name:version>",
		Short: "Show the processing status of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := pkgkey.Parse(args[0])
			if err != nil {
				return err
			}
			if serverURL == "" {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				serverURL = cfg.Server
			}

			client := integrations.NewClient(nil, "status", 0, nil)
			u := strings.TrimRight(serverURL, "/") + "/status?" + url.Values{"key": {key.String()}}.Encode()
			var rec registry.Record
			if err := client.Get(cmd.Context(), u, &rec); err != nil {
				return err
			}
			printKeyValue("package", key.String())
			printRecord(rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default from config)")
	return cmd
}
