package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/signals"
)

var controlReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel [conversation-id]",
	Short: "Cancel a running conversation",
	Long: `Ask a 'sleuth run' in this directory to cancel a conversation. Without an
ID every conversation of the running process is cancelled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		return sendSignal(cmd, signals.KindCancel, id)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <adaptation-id>",
	Short: "Approve a held plan adaptation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.KindApprove, args[0])
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <adaptation-id>",
	Short: "Reject a held plan adaptation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.KindReject, args[0])
	},
}

func init() {
	approveCmd.Flags().StringVar(&controlReason, "reason", "", "Reason recorded with the decision")
	rejectCmd.Flags().StringVar(&controlReason, "reason", "", "Reason recorded with the decision")
}

func sendSignal(cmd *cobra.Command, kind signals.Kind, target string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	var path string
	switch kind {
	case signals.KindApprove:
		path, err = signals.SendApprove(cwd, target, controlReason)
	case signals.KindReject:
		path, err = signals.SendReject(cwd, target, controlReason)
	default:
		path, err = signals.SendCancel(cwd, target)
	}
	if err != nil {
		return err
	}
	what := string(kind)
	if target != "" {
		what += " " + target
	}
	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Sent %s (%s)", what, path), color.FgGreen)
	return nil
}
