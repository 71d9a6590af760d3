package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Codex drives the Codex CLI.
type Codex struct {
	Binary string
}

func (c *Codex) Name() string { return "codex" }

func (c *Codex) Available() error {
	_, err := lookBinary(c.Binary, "codex")
	return err
}

func (c *Codex) Authenticated() error {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("codex: resolve home: %w", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".codex", "auth.json")); err != nil {
		return fmt.Errorf("codex: no credentials (set OPENAI_API_KEY or run codex login)")
	}
	return nil
}

func (c *Codex) Command(ctx context.Context, workdir string) *exec.Cmd {
	binary := c.Binary
	if binary == "" {
		binary = "codex"
	}
	cmd := exec.CommandContext(ctx, binary)
	cmd.Dir = workdir
	return cmd
}

type codexEventLine struct {
	Type string `json:"type"`
	Info struct {
		Model      string `json:"model"`
		TotalUsage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"total_token_usage"`
	} `json:"info"`
}

func (c *Codex) ParseUsage(line []byte) (Usage, bool) {
	var entry codexEventLine
	if err := json.Unmarshal(line, &entry); err != nil {
		return Usage{}, false
	}
	if entry.Type != "token_count" {
		return Usage{}, false
	}
	u := entry.Info.TotalUsage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return Usage{}, false
	}
	return Usage{
		Model:        entry.Info.Model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}, true
}
