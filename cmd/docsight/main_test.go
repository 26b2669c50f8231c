package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "migrate", "config"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Fatalf("explicit path: got %q", got)
	}

	t.Setenv("DOCSIGHT_CONFIG", "/etc/docsight/env.yaml")
	if got := resolveConfigPath(""); got != "/etc/docsight/env.yaml" {
		t.Fatalf("env fallback: got %q", got)
	}

	t.Setenv("DOCSIGHT_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigName {
		t.Fatalf("default: got %q", got)
	}
}

func TestConfigSchemaCommandPrintsSchema(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "schema"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config schema: %v", err)
	}
	if !strings.Contains(out.String(), "\"properties\"") {
		t.Fatalf("schema output missing properties: %q", out.String())
	}
}
