package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/switchyard-dev/switchyard/internal/models"
)

func newInstanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Agent instance commands",
	}

	cmd.AddCommand(newInstanceStartCmd())
	cmd.AddCommand(newInstanceStopCmd())
	cmd.AddCommand(newInstanceRestartCmd())
	cmd.AddCommand(newInstanceShowCmd())
	return cmd
}

func newInstanceStartCmd() *cobra.Command {
	var (
		gatewayURL string
		sessionID  string
		worktreeID string
		workdir    string
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an agent instance for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			var inst models.AgentInstance
			err := apiPost(gatewayURL, "/api/instances", map[string]any{
				"session_id":  sessionID,
				"worktree_id": worktreeID,
				"workdir":     workdir,
				"kind":        kind,
			}, &inst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s (%s, pid %d) for session %s\n",
				inst.ID, inst.Kind, inst.PID, inst.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (required)")
	cmd.Flags().StringVar(&worktreeID, "worktree", "", "worktree ID")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory override")
	cmd.Flags().StringVar(&kind, "kind", "", "agent kind (default from config)")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newInstanceStopCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "stop <instance-id>",
		Short: "Stop an agent instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiPost(gatewayURL, "/api/instances/"+args[0]+"/stop", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	return cmd
}

func newInstanceRestartCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "restart <instance-id>",
		Short: "Restart an agent instance under the same identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inst models.AgentInstance
			if err := apiPost(gatewayURL, "/api/instances/"+args[0]+"/restart", nil, &inst); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restarted %s (pid %d)\n", inst.ID, inst.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	return cmd
}

func newInstanceShowCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show agent instance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inst models.AgentInstance
			if err := apiGet(gatewayURL, "/api/instances/"+args[0], &inst); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", inst.ID)
			fmt.Fprintf(out, "Session:  %s\n", inst.SessionID)
			fmt.Fprintf(out, "Kind:     %s\n", inst.Kind)
			fmt.Fprintf(out, "Status:   %s", inst.Status)
			if inst.ErrorMsg != "" {
				fmt.Fprintf(out, " (%s)", inst.ErrorMsg)
			}
			fmt.Fprintln(out)
			if inst.PID > 0 {
				fmt.Fprintf(out, "PID:      %d\n", inst.PID)
			}
			fmt.Fprintf(out, "Tokens:   %s in / %s out\n",
				formatTokenCount(inst.InputTokens), formatTokenCount(inst.OutputTokens))
			fmt.Fprintf(out, "Started:  %s\n", inst.StartedAt.Format(time.RFC3339))
			if inst.StoppedAt != nil {
				fmt.Fprintf(out, "Stopped:  %s\n", inst.StoppedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	return cmd
}
