package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/symgraph/internal/config"
	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
)

// triggerCommand creates the trigger command.
func (c *CLI) triggerCommand() *cobra.Command {
	var (
		serverURL string
		local     bool
		noCache   bool
	)

	cmd := &cobra.Command{
		Use:   "trigger <ecosystem:name:version>",
		Short: "Build the symbol graph of a package",
		Long: `Start a pipeline run for a package.

By default the request is sent to a running server. With --local the pipeline
runs in this process and the command waits for it to finish.`,
		Example: `  symgraph trigger rust:serde:1.0.200
  symgraph trigger --local npm:left-pad:1.3.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := pkgkey.Parse(args[0])
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if local {
				return c.runLocal(cmd.Context(), cfg, key, noCache)
			}
			if serverURL == "" {
				serverURL = cfg.Server
			}
			rec, err := postTrigger(cmd.Context(), serverURL, key)
			if err != nil {
				return err
			}
			printSuccess("Triggered %s", StyleHighlight.Render(key.String()))
			printRecord(rec)
			printNextStep("Follow progress", "symgraph watch "+key.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default from config)")
	cmd.Flags().BoolVar(&local, "local", false, "run the pipeline in this process")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the HTTP response cache (with --local)")

	return cmd
}

// runLocal builds key in-process and reports the final record.
func (c *CLI) runLocal(ctx context.Context, cfg config.Config, key pkgkey.Key, noCache bool) error {
	a, err := c.newApp(ctx, cfg, noCache)
	if err != nil {
		return err
	}
	defer a.Close()

	prog := newProgress(c.Logger)
	spinner := newSpinnerWithContext(ctx, "Building "+key.String()+"...")
	spinner.Start()
	watchCtx, stopWatch := context.WithCancel(ctx)
	if updates, serr := a.registry.StreamStatus(watchCtx, key); serr == nil {
		go func() {
			for r := range updates {
				if r.Step != "" {
					spinner.SetMessage(key.String() + ": " + r.Step + "...")
				}
			}
		}()
	}
	rec, err := a.pipeline.Run(ctx, key)
	stopWatch()
	spinner.Stop()
	if err != nil {
		printError("%s", errors.UserMessage(err))
		printRecord(rec)
		return err
	}
	prog.done("Built " + key.String())
	printRecord(rec)
	return nil
}

func postTrigger(ctx context.Context, base string, key pkgkey.Key) (registry.Record, error) {
	body, err := json.Marshal(map[string]string{
		"ecosystem": key.Ecosystem,
		"name":      key.Name,
		"version":   key.Version,
	})
	if err != nil {
		return registry.Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/trigger", bytes.NewReader(body))
	if err != nil {
		return registry.Record{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return registry.Record{}, errors.Wrap(errors.ErrCodeNetwork, err, "contact %s", base)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return registry.Record{}, fmt.Errorf("trigger %s: %d %s", key, resp.StatusCode, e.Error)
	}
	var rec registry.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return registry.Record{}, fmt.Errorf("decode trigger response: %w", err)
	}
	return rec, nil
}
