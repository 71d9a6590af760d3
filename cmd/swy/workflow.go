package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow status commands",
	}

	cmd.AddCommand(newWorkflowReportCmd())
	cmd.AddCommand(newWorkflowAskCmd())
	cmd.AddCommand(newWorkflowAnswerCmd())
	return cmd
}

func newWorkflowReportCmd() *cobra.Command {
	var (
		gatewayURL string
		message    string
	)

	cmd := &cobra.Command{
		Use:   "report <session-id> <status>",
		Short: "Report a workflow status for a session",
		Long:  "Statuses: started, working, awaiting_input, blocked, awaiting_review, completed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := apiPost(gatewayURL, "/api/sessions/"+args[0]+"/workflow", map[string]any{
				"status":  args[1],
				"message": message,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s is now %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	cmd.Flags().StringVarP(&message, "message", "m", "", "human-readable progress message")
	return cmd
}

func newWorkflowAskCmd() *cobra.Command {
	var (
		gatewayURL    string
		options       []string
		defaultAction string
		timeoutSecs   int
	)

	cmd := &cobra.Command{
		Use:   "ask <session-id> <question>",
		Short: "Pause a session on a question for a human",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := apiPost(gatewayURL, "/api/sessions/"+args[0]+"/input-request", map[string]any{
				"question":       args[1],
				"options":        options,
				"default_action": defaultAction,
				"timeout_secs":   timeoutSecs,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s is awaiting input\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	cmd.Flags().StringSliceVar(&options, "option", nil, "answer option (repeatable)")
	cmd.Flags().StringVar(&defaultAction, "default", "", "action applied on timeout")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "seconds before the default applies")
	return cmd
}

func newWorkflowAnswerCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "answer <session-id> <value>",
		Short: "Answer a session's pending question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := apiPost(gatewayURL, "/api/sessions/"+args[0]+"/input-resolve", map[string]any{
				"type":  "human",
				"value": args[1],
			}, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Answered session %s with %q\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	return cmd
}
