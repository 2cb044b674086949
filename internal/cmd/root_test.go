package cmd

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DBT_LAMBDA_CONFIG", "")
	t.Setenv("APP_ENV", os.Getenv("APP_ENV"))

	cmd := NewRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	output, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("--help returned error: %v", err)
	}
	if !strings.Contains(output, "dbt-lambda") {
		t.Errorf("Help text should contain 'dbt-lambda', got: %s", output)
	}
	if !strings.Contains(output, "Lambda") {
		t.Errorf("Help text should mention Lambda, got: %s", output)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "dbt-lambda" {
		t.Errorf("Expected Use to be 'dbt-lambda', got '%s'", cmd.Use)
	}

	want := map[string]bool{"exec": false, "docs": false, "params": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("Expected subcommand %q", name)
		}
	}
}

func TestRootCommandVersion(t *testing.T) {
	output, err := execute(t, "--version")
	if err != nil {
		t.Fatalf("--version returned error: %v", err)
	}
	if !strings.Contains(output, Version) {
		t.Errorf("Version output = %q, want containing %q", output, Version)
	}
}

func TestSetAppEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if err := setAppEnv("prod"); err != nil {
		t.Fatalf("setAppEnv(prod) error = %v", err)
	}
	if err := setAppEnv("staging"); err == nil {
		t.Error("setAppEnv(staging) should fail")
	}
}
