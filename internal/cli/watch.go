package cli

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/symgraph/pkg/liveupdate"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
)

// watchCommand creates the watch command which follows a status stream, or
// with an edge: topic the cross-edge updates of a symbol.
func (c *CLI) watchCommand() *cobra.Command {
	var (
		serverURL string
		follow    bool
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <ecosystem:name:version | edge:symbol>",
		Short: "Follow live status or cross-edge updates",
		Long: `Follow a live stream from the server.

Package keys print every status change and exit once the package is ready or
failed, unless --follow is set. Topics of the form edge:<symbol> print
cross-edge updates until interrupted. Streams reconnect automatically when
the server closes them.`,
		Example: `  symgraph watch rust:serde:1.0.200
  symgraph watch edge:rust:serde::Serialize`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			edges := isEdgeTopic(topic)
			if !edges {
				if _, err := pkgkey.Parse(topic); err != nil {
					return err
				}
			}
			if serverURL == "" {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				serverURL = cfg.Server
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			handle := func(_ string, raw json.RawMessage) {
				if edges {
					var upd registry.EdgeUpdate
					if err := json.Unmarshal(raw, &upd); err == nil {
						printInfo("%s  %s  %d edges", StyleHighlight.Render(upd.Symbol), StyleDim.Render(upd.Package), upd.Edges)
					}
					return
				}
				var rec registry.Record
				if err := json.Unmarshal(raw, &rec); err != nil {
					return
				}
				printRecord(rec)
				if !follow && (rec.Status == registry.StatusReady || rec.Status == registry.StatusFailed) {
					cancel()
				}
			}

			ch := liveupdate.New(ctx, liveupdate.NewHTTPDialer(serverURL), handle, liveupdate.Options{
				ConnectDelay: delay,
				Logger:       c.Logger,
			})
			ch.Connect(topic)
			<-ctx.Done()
			ch.Destroy()
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default from config)")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep watching after ready or failed")
	cmd.Flags().DurationVar(&delay, "delay", -1, "delay before connecting (negative connects immediately)")
	return cmd
}

func isEdgeTopic(topic string) bool {
	return strings.HasPrefix(topic, liveupdate.EdgeTopicPrefix)
}
