package main

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("swy %s: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

func TestSessionCreateListShow(t *testing.T) {
	cfgPath := writeTestConfig(t)
	runCommand(t, "db", "init", "-c", cfgPath)

	out := runCommand(t, "session", "create", "-c", cfgPath, "--title", "fix the parser", "--task", "GH-42")
	m := regexp.MustCompile(`sess-[0-9a-f]{8}`).FindString(out)
	if m == "" {
		t.Fatalf("no session ID in output: %q", out)
	}

	out = runCommand(t, "session", "list", "-c", cfgPath)
	if !strings.Contains(out, m) || !strings.Contains(out, "fix the parser") {
		t.Errorf("list output = %q", out)
	}
	if !strings.Contains(out, "provisioning") || !strings.Contains(out, "started") {
		t.Errorf("list output missing initial statuses: %q", out)
	}

	out = runCommand(t, "session", "show", "-c", cfgPath, m)
	if !strings.Contains(out, "fix the parser") || !strings.Contains(out, "Workflow:   started") {
		t.Errorf("show output = %q", out)
	}
}

func TestSessionShow_Unknown(t *testing.T) {
	cfgPath := writeTestConfig(t)
	runCommand(t, "db", "init", "-c", cfgPath)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"session", "show", "-c", cfgPath, "sess-missing"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestSessionEvents_EmptyHistory(t *testing.T) {
	cfgPath := writeTestConfig(t)
	runCommand(t, "db", "init", "-c", cfgPath)
	out := runCommand(t, "session", "create", "-c", cfgPath, "--title", "t")
	id := regexp.MustCompile(`sess-[0-9a-f]{8}`).FindString(out)

	out = runCommand(t, "session", "events", "-c", cfgPath, id)
	if !strings.Contains(out, "SEQ") {
		t.Errorf("events output = %q", out)
	}
}
