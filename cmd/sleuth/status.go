package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/archive"
	"github.com/ShayCichocki/sleuth/internal/config"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

var (
	statusFilter string
	statusLimit  int
	showJSON     bool
	pruneOlder   time.Duration
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"history"},
	Short:   "List archived conversations",
	Long: `List conversations from the archive, most recently updated first.

Shows:
  - Conversation ID and status
  - Plan type and task count
  - Final confidence
  - Request text`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show an archived conversation",
	Long: `Show an archived conversation: its plan, every task with status and
failure reason, resolved conflicts, plan adaptations and the final outcome.

A unique prefix of the conversation ID is accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived conversations older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Only show conversations with this status")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "Maximum number of conversations to list (0 = all)")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the full record as JSON")
	pruneCmd.Flags().DurationVar(&pruneOlder, "older-than", 30*24*time.Hour, "Delete conversations last updated before now minus this duration")
}

// openArchive opens the configured archive for reading.
func openArchive(cfg *config.Config) (*archive.Store, error) {
	if _, err := os.Stat(cfg.Archive.Path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no archive at %s; run 'sleuth run <request>' first", cfg.Archive.Path)
	}
	return archive.Open(cfg.Archive.Path, archive.WithDriver(cfg.Archive.Driver))
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	filter := models.ConversationStatus(statusFilter)
	if filter != "" && !validConversationStatus(filter) {
		return fmt.Errorf("unknown status %q", statusFilter)
	}

	store, err := openArchive(cfg)
	if err != nil {
		printStatus(out, "!", err.Error(), color.FgYellow)
		return nil
	}
	defer store.Close()

	list, err := store.ListConversations(archive.ListOptions{Status: filter, Limit: statusLimit})
	if err != nil {
		return err
	}
	printSummaries(out, list)
	return nil
}

func printSummaries(w io.Writer, list []archive.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No archived conversations.")
		return
	}
	color.New(color.Bold).Fprintf(w, "%-8s  %-10s  %-10s  %5s  %5s  %-16s  %s\n", "ID", "STATUS", "TYPE", "TASKS", "CONF", "UPDATED", "REQUEST")
	for _, s := range list {
		fmt.Fprintf(w, "%-8s  %-10s  %-10s  %5d  %5.2f  %-16s  %s\n",
			shortID(s.ID), statusColor(s.Status), s.PlanType, s.Tasks, s.Confidence,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"), truncate(s.Request, 60))
	}
}

func statusColor(s models.ConversationStatus) string {
	text := fmt.Sprintf("%-10s", s)
	switch s {
	case models.ConversationCompleted:
		return color.GreenString(text)
	case models.ConversationFailed:
		return color.RedString(text)
	case models.ConversationCancelled:
		return color.YellowString(text)
	}
	return text
}

func validConversationStatus(s models.ConversationStatus) bool {
	switch s {
	case models.ConversationPlanning, models.ConversationPlanned, models.ConversationRunning,
		models.ConversationCompleted, models.ConversationFailed, models.ConversationCancelled:
		return true
	}
	return false
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := resolveID(store, args[0])
	if err != nil {
		return err
	}
	rec, err := store.GetConversation(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printRecord(out, rec)
	return nil
}

// resolveID expands a unique ID prefix against the archive.
func resolveID(store *archive.Store, prefix string) (string, error) {
	if _, err := store.GetConversation(prefix); err == nil {
		return prefix, nil
	} else if !errors.Is(err, archive.ErrNotFound) {
		return "", err
	}
	list, err := store.ListConversations(archive.ListOptions{})
	if err != nil {
		return "", err
	}
	var match string
	for _, s := range list {
		if len(s.ID) >= len(prefix) && s.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("conversation prefix %q is ambiguous", prefix)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("conversation %s: %w", prefix, archive.ErrNotFound)
	}
	return match, nil
}

// printRecord prints a full conversation record.
func printRecord(w io.Writer, rec *models.ConversationRecord) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Conversation %s\n", rec.ID)
	fmt.Fprintf(w, "  Request: %s\n", rec.Request)
	fmt.Fprintf(w, "  Status:  %s\n", statusColor(rec.Status))
	fmt.Fprintf(w, "  Created: %s\n", rec.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "  Updated: %s\n\n", rec.UpdatedAt.Local().Format(time.RFC1123))

	if rec.Plan != nil {
		printPlan(w, rec.Plan, rec.Tasks)
		fmt.Fprintln(w)
	}

	bold.Fprintln(w, "Tasks")
	for _, t := range rec.Tasks {
		line := fmt.Sprintf("  %-10s %-40s %s", t.Status, truncate(t.Title, 40), roleOf(t))
		if t.Result != nil {
			line += fmt.Sprintf("  conf %.2f", t.Result.Confidence)
		}
		fmt.Fprintln(w, line)
		switch {
		case t.FailureReason != models.FailureNone:
			fmt.Fprintf(w, "             %s: %s\n", t.FailureReason, t.Error)
		case t.BlockedReason != "":
			fmt.Fprintf(w, "             %s\n", t.BlockedReason)
		}
	}

	if len(rec.Conflicts) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Conflicts")
		for _, c := range rec.Conflicts {
			line := fmt.Sprintf("  %s on %q between %s: %s", c.Type, c.Subject, joinShort(c.TaskIDs), c.Resolution)
			if c.WinnerID != "" {
				line += " (" + shortID(c.WinnerID) + ")"
			}
			if c.Escalate {
				line += color.YellowString(" escalated")
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(rec.Adaptations) > 0 {
		fmt.Fprintln(w)
		bold.Fprintln(w, "Adaptations")
		for _, a := range rec.Adaptations {
			fmt.Fprintf(w, "  %s %-9s %-15s impact %+.0f%%  %d change(s)\n", shortID(a.ID), a.Status, a.Trigger, a.Impact*100, len(a.Changes))
			if a.Justification != "" {
				fmt.Fprintf(w, "      %s\n", a.Justification)
			}
			for _, c := range a.Changes {
				fmt.Fprintf(w, "      %s %s %s\n", c.Kind, shortID(c.TaskID), c.Reason)
			}
		}
	}

	fmt.Fprintln(w)
	printOutcome(w, rec.Outcome)
}

func joinShort(ids []string) string {
	s := ""
	for i, id := range shortIDs(ids) {
		if i > 0 {
			s += ", "
		}
		s += id
	}
	return s
}

func runPrune(cmd *cobra.Command, args []string) error {
	if pruneOlder <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.PruneBefore(time.Now().Add(-pruneOlder))
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("Pruned %d conversation(s)", n), color.FgGreen)
	return nil
}
