package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/switchyard-dev/switchyard/internal/fault"
	"github.com/switchyard-dev/switchyard/internal/models"
	"github.com/switchyard-dev/switchyard/internal/sequencer"
	"gorm.io/gorm"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session management commands",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionEventsCmd())
	cmd.AddCommand(newSessionClaimCmd())
	cmd.AddCommand(newSessionReleaseCmd())
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		configPath string
		title      string
		taskRef    string
		worktreeID string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}

			b := make([]byte, 4)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("generate session ID: %w", err)
			}
			now := time.Now()
			sess := models.Session{
				ID:             "sess-" + hex.EncodeToString(b),
				Title:          title,
				TaskRef:        taskRef,
				WorktreeID:     worktreeID,
				Status:         models.SessionProvisioning,
				WorkflowStatus: models.WorkflowStarted,
				LastActivity:   now,
				CreatedAt:      now,
			}
			if err := gormDB.Create(&sess).Error; err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s\n", sess.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVar(&title, "title", "", "session title (required)")
	cmd.Flags().StringVar(&taskRef, "task", "", "external task reference")
	cmd.Flags().StringVar(&worktreeID, "worktree", "", "worktree ID")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}

			q := gormDB.Order("created_at DESC")
			if status != "" {
				q = q.Where("status = ?", status)
			}
			var sessions []models.Session
			if err := q.Find(&sessions).Error; err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tWORKFLOW\tCLAIMED BY\tEVENTS")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					s.ID, s.Title, s.Status, s.WorkflowStatus, s.ClaimedBy, s.NextSeq)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}

			var sess models.Session
			if err := gormDB.Where("id = ?", args[0]).First(&sess).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w", fault.NotFound("session %s", args[0]))
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", sess.ID)
			fmt.Fprintf(out, "Title:      %s\n", sess.Title)
			fmt.Fprintf(out, "Status:     %s\n", sess.Status)
			fmt.Fprintf(out, "Workflow:   %s", sess.WorkflowStatus)
			if sess.WorkflowMessage != "" {
				fmt.Fprintf(out, " (%s)", sess.WorkflowMessage)
			}
			fmt.Fprintln(out)
			if sess.AwaitingQuestion != "" {
				fmt.Fprintf(out, "Awaiting:   %s\n", sess.AwaitingQuestion)
				if sess.AwaitingExpiresAt != nil {
					fmt.Fprintf(out, "            default %q at %s\n",
						sess.AwaitingDefault, sess.AwaitingExpiresAt.Format(time.RFC3339))
				}
			}
			if sess.ClaimedBy != "" && sess.LeaseExpiresAt != nil {
				fmt.Fprintf(out, "Lease:      %s until %s\n",
					sess.ClaimedBy, sess.LeaseExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Events:     %d\n", sess.NextSeq)
			fmt.Fprintf(out, "Activity:   %s\n", sess.LastActivity.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	return cmd
}

func newSessionEventsCmd() *cobra.Command {
	var (
		configPath string
		fromSeq    int64
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Print a session's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gormDB, err := openDB(cfg)
			if err != nil {
				return err
			}

			opts := sequencer.ReadOpts{Limit: limit}
			if cmd.Flags().Changed("from") {
				cursor := fromSeq - 1
				opts.FromSeq = &cursor
			}
			events, err := sequencer.Read(gormDB, args[0], opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tDIR\tTYPE\tPAYLOAD")
			for _, ev := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Seq, ev.Direction, ev.Type, truncate(ev.Payload, 80))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Switchyard config file")
	cmd.Flags().Int64Var(&fromSeq, "from", 0, "first sequence number to print")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to print")
	return cmd
}

func newSessionClaimCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "claim <session-id>",
		Short: "Ask the gateway to claim a session lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sess models.Session
			if err := apiPost(gatewayURL, "/api/sessions/"+args[0]+"/claim", nil, &sess); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s claimed by %s\n", sess.ID, sess.ClaimedBy)
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	return cmd
}

func newSessionReleaseCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "release <session-id>",
		Short: "Release a session lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiPost(gatewayURL, "/api/sessions/"+args[0]+"/release", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s released\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway", defaultGatewayURL, "gateway base URL")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
