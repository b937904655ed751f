package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "not set"},
		{"short", "set"},
		{"12345678", "set"},
		{"fastgpt-abcdef123456", "fast...3456"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.key); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestSettingDisplay(t *testing.T) {
	if got := settingDisplay(""); got != "not set" {
		t.Errorf("settingDisplay(\"\") = %q", got)
	}
	if got := settingDisplay("   "); got != "not set" {
		t.Errorf("settingDisplay(blank) = %q", got)
	}
	if got := settingDisplay("https://fastgpt.example.com/api"); got != "https://fastgpt.example.com/api" {
		t.Errorf("settingDisplay(url) = %q", got)
	}
}

func TestCommandRegistration(t *testing.T) {
	want := []string{"gateway", "onboard", "status", "memory"}
	for _, name := range want {
		if findCommand(rootCmd, name) == nil {
			t.Errorf("root command missing subcommand %q", name)
		}
	}

	memCmd := findCommand(rootCmd, "memory")
	if memCmd == nil {
		t.Fatal("memory command not registered")
	}
	for _, name := range []string{"stats", "erase"} {
		if findCommand(memCmd, name) == nil {
			t.Errorf("memory command missing subcommand %q", name)
		}
	}
}

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
