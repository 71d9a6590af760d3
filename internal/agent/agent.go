// Package agent defines the closed set of supported coding-agent kinds and
// how each one is spawned, probed for availability, and metered.
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/switchyard-dev/switchyard/internal/fault"
)

// Usage is one metering observation parsed from agent output.
type Usage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Kind describes one supported agent. Implementations are registered in a
// Registry keyed by name; dispatch over open-ended strings stays at the API
// boundary.
type Kind interface {
	// Name returns the kind identifier, e.g. "claude".
	Name() string

	// Available returns nil if the agent binary can be resolved.
	Available() error

	// Authenticated returns nil if credentials for the agent are present.
	// The check is local only; it never performs OAuth.
	Authenticated() error

	// Command builds the interactive agent process for the given worktree.
	Command(ctx context.Context, workdir string) *exec.Cmd

	// ParseUsage inspects one output line for token usage. Returns false
	// when the line carries none.
	ParseUsage(line []byte) (Usage, bool)
}

// Registry holds the supported agent kinds.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry builds a registry with all built-in kinds. binaries maps kind
// name to a binary path override (empty map uses PATH lookups).
func NewRegistry(binaries map[string]string) *Registry {
	r := &Registry{kinds: make(map[string]Kind)}
	for _, k := range []Kind{
		&Claude{Binary: binaries["claude"]},
		&Opencode{Binary: binaries["opencode"]},
		&Gemini{Binary: binaries["gemini"]},
		&Codex{Binary: binaries["codex"]},
	} {
		r.kinds[k.Name()] = k
	}
	return r
}

// Resolve returns the kind with the given name.
func (r *Registry) Resolve(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("agent: %w", fault.Precondition("unsupported agent kind %q", name))
	}
	return k, nil
}

// Names returns the registered kind names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	return names
}

// ResolveReady tries the preferred kind then each fallback in order,
// returning the first that is both available and authenticated. The first
// success short-circuits; if none qualifies, the error lists every
// candidate's reason.
func (r *Registry) ResolveReady(preferred string, fallbacks []string) (Kind, error) {
	candidates := append([]string{preferred}, fallbacks...)
	var reasons []string

	for _, name := range candidates {
		k, err := r.Resolve(name)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: unsupported", name))
			continue
		}
		if err := k.Available(); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if err := k.Authenticated(); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		return k, nil
	}

	return nil, fmt.Errorf("agent: %w",
		fault.Precondition("no usable agent among [%s]: %s",
			strings.Join(candidates, ", "), strings.Join(reasons, "; ")))
}

// lookBinary resolves a binary, preferring the override path.
func lookBinary(override, name string) (string, error) {
	if override != "" {
		return override, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH", name)
	}
	return path, nil
}
