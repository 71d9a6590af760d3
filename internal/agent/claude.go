package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Claude drives the Claude Code CLI.
type Claude struct {
	Binary string // optional path override
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Available() error {
	_, err := lookBinary(c.Binary, "claude")
	return err
}

func (c *Claude) Authenticated() error {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("claude: resolve home: %w", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".claude", ".credentials.json")); err != nil {
		return fmt.Errorf("claude: no credentials (set ANTHROPIC_API_KEY or run claude login)")
	}
	return nil
}

func (c *Claude) Command(ctx context.Context, workdir string) *exec.Cmd {
	binary := c.Binary
	if binary == "" {
		binary = "claude"
	}
	cmd := exec.CommandContext(ctx, binary,
		"--dangerously-skip-permissions",
		"--verbose",
		"--output-format", "stream-json",
	)
	cmd.Dir = workdir
	return cmd
}

// claudeStreamLine covers the fields of a stream-json line we meter.
type claudeStreamLine struct {
	Type    string `json:"type"`
	Message struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

func (c *Claude) ParseUsage(line []byte) (Usage, bool) {
	var entry claudeStreamLine
	if err := json.Unmarshal(line, &entry); err != nil {
		return Usage{}, false
	}
	if entry.Type != "assistant" {
		return Usage{}, false
	}
	u := entry.Message.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return Usage{}, false
	}
	return Usage{
		Model:        entry.Message.Model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}, true
}
