package main

import (
	"testing"

	"github.com/chatd-agent/chatd/internal/config"
)

func TestBuildRootCmdIncludesServe(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["serve"] {
		t.Fatal("expected the serve subcommand to be registered")
	}
}

func TestBuildRegistryRegistersAllTools(t *testing.T) {
	cfg := &config.Config{}
	registry := buildRegistry(cfg)
	want := []string{"web_search", "web_fetch", "calculator", "current_time"}
	for _, name := range want {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}
