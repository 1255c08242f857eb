package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	t.Parallel()

	if rootCmd.Use != "finquery" {
		t.Errorf("Use = %q, want %q", rootCmd.Use, "finquery")
	}
	if rootCmd.Short == "" {
		t.Error("expected non-empty Short description")
	}
	if rootCmd.Long == "" {
		t.Error("expected non-empty Long description")
	}
	if rootCmd.RunE == nil {
		t.Error("expected root to default to serving")
	}

	for _, name := range []string{"serve", "version"} {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	got := out.String()
	for _, want := range []string{"finquery", Version, "Build Time", "Git Commit"} {
		if !strings.Contains(got, want) {
			t.Errorf("version output missing %q:\n%s", want, got)
		}
	}
}

func TestServeCommandHasAddrFlag(t *testing.T) {
	t.Parallel()

	flag := serveCmd.Flags().Lookup("addr")
	if flag == nil {
		t.Fatal("serve command has no --addr flag")
	}
	if flag.DefValue != "" {
		t.Errorf("addr default = %q, want empty (config decides)", flag.DefValue)
	}
}
