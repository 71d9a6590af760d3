package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Opencode drives the opencode CLI.
type Opencode struct {
	Binary string
}

func (o *Opencode) Name() string { return "opencode" }

func (o *Opencode) Available() error {
	_, err := lookBinary(o.Binary, "opencode")
	return err
}

func (o *Opencode) Authenticated() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("opencode: resolve home: %w", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".local", "share", "opencode", "auth.json")); err != nil {
		return fmt.Errorf("opencode: no credentials (run opencode auth login)")
	}
	return nil
}

func (o *Opencode) Command(ctx context.Context, workdir string) *exec.Cmd {
	binary := o.Binary
	if binary == "" {
		binary = "opencode"
	}
	cmd := exec.CommandContext(ctx, binary)
	cmd.Dir = workdir
	return cmd
}

type opencodeEventLine struct {
	Type   string `json:"type"`
	Tokens struct {
		Input  int64 `json:"input"`
		Output int64 `json:"output"`
	} `json:"tokens"`
	ModelID string `json:"modelID"`
}

func (o *Opencode) ParseUsage(line []byte) (Usage, bool) {
	var entry opencodeEventLine
	if err := json.Unmarshal(line, &entry); err != nil {
		return Usage{}, false
	}
	if entry.Tokens.Input == 0 && entry.Tokens.Output == 0 {
		return Usage{}, false
	}
	return Usage{
		Model:        entry.ModelID,
		InputTokens:  entry.Tokens.Input,
		OutputTokens: entry.Tokens.Output,
	}, true
}
