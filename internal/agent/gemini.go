package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Gemini drives the Gemini CLI.
type Gemini struct {
	Binary string
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Available() error {
	_, err := lookBinary(g.Binary, "gemini")
	return err
}

func (g *Gemini) Authenticated() error {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("gemini: resolve home: %w", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".gemini", "oauth_creds.json")); err != nil {
		return fmt.Errorf("gemini: no credentials (set GEMINI_API_KEY or run gemini auth)")
	}
	return nil
}

func (g *Gemini) Command(ctx context.Context, workdir string) *exec.Cmd {
	binary := g.Binary
	if binary == "" {
		binary = "gemini"
	}
	cmd := exec.CommandContext(ctx, binary)
	cmd.Dir = workdir
	return cmd
}

// The Gemini CLI does not emit machine-readable usage on its interactive
// stream; metering relies on the periodic side-channel probe instead.
func (g *Gemini) ParseUsage(line []byte) (Usage, bool) {
	return Usage{}, false
}
