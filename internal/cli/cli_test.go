package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/symgraph/internal/config"
	"github.com/matzehuels/symgraph/pkg/registry"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	c := New(&bytes.Buffer{}, log.InfoLevel)
	root := c.RootCommand()

	want := []string{"serve", "trigger", "status", "watch", "cache", "completion"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestTriggerRejectsBadKey(t *testing.T) {
	c := New(&bytes.Buffer{}, log.InfoLevel)
	root := c.RootCommand()
	root.SetArgs([]string{"trigger", "rust:serde:"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Error("bad key should fail")
	}
}

func TestClearDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "ab", "cd")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(dir, "one.json"), filepath.Join(nested, "two.json")} {
		if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := clearDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("dir not empty: %v", entries)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("cache dir itself removed: %v", err)
	}

	n, err = clearDir(filepath.Join(dir, "missing"))
	if err != nil || n != 0 {
		t.Errorf("missing dir = %d, %v", n, err)
	}
}

func TestFormatRecord(t *testing.T) {
	tests := []struct {
		rec  registry.Record
		want []string
	}{
		{registry.Processing(registry.StepParsing), []string{"processing", "parsing"}},
		{registry.Ready("1.0.0"), []string{"ready", "1.0.0"}},
		{registry.Record{Status: registry.StatusFailed, Error: "no such crate", Action: registry.ActionCheckName}, []string{"failed", "no such crate", "check-name"}},
		{registry.Record{Status: registry.StatusUnknown}, []string{"unknown"}},
	}
	for _, tt := range tests {
		got := formatRecord(tt.rec)
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("formatRecord(%+v) = %q, missing %q", tt.rec, got, w)
			}
		}
	}
}

func TestSourcePolicy(t *testing.T) {
	p := sourcePolicy(config.Default().Source)
	if !p.RaceFallbacks || p.RaceAfter != 2 || p.MainRetries != 2 {
		t.Errorf("policy = %+v", p)
	}
	if !p.ShouldRaceFallbacks(2) || p.ShouldRaceFallbacks(1) {
		t.Error("racing threshold not applied")
	}

	sc := config.Default().Source
	sc.DisableRacing = true
	if sourcePolicy(sc).ShouldRaceFallbacks(10) {
		t.Error("racing should be disabled")
	}
}

func TestIsEdgeTopic(t *testing.T) {
	if !isEdgeTopic("edge:rust:serde::Serialize") || isEdgeTopic("rust:serde:1.0.0") {
		t.Error("isEdgeTopic misclassified")
	}
}

func TestCompletionWritesToCommandOutput(t *testing.T) {
	c := New(&bytes.Buffer{}, log.InfoLevel)
	root := c.RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"completion", "bash"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "symgraph") {
		t.Errorf("bash completion missing program name: %.80q", out.String())
	}
}
