package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := appVersion
	origCommit := appCommit
	origDate := appDate
	defer func() {
		appVersion = origVersion
		appCommit = origCommit
		appDate = origDate
	}()

	SetVersionInfo("1.2.3", "abc1234", "2026-08-27")

	if appVersion != "1.2.3" {
		t.Errorf("appVersion = %q, want 1.2.3", appVersion)
	}
	if appCommit != "abc1234" {
		t.Errorf("appCommit = %q, want abc1234", appCommit)
	}
	if appDate != "2026-08-27" {
		t.Errorf("appDate = %q, want 2026-08-27", appDate)
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"nonexistent-command"})
	defer rootCmd.SetArgs(nil)

	err := Execute()
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRootCmd_RegistersTopLevelCommands(t *testing.T) {
	expected := []string{"task", "sync", "watch", "metrics", "dashboard", "mcp", "init", "completion", "version"}
	subs := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		subs[cmd.Name()] = true
	}
	for _, name := range expected {
		if !subs[name] {
			t.Errorf("expected command %q to be registered on root", name)
		}
	}
}
