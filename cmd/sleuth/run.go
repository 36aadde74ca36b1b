package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/internal/signals"
	"github.com/ShayCichocki/sleuth/internal/tui"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

var (
	runFile         string
	runOffline      bool
	runOfflineDelay time.Duration
	runTUI          bool
	runAutoApprove  bool
	runYes          bool
	runTimeout      time.Duration
	runNoArchive    bool
)

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Plan and execute an investigative request",
	Long: `Decompose a request (or load a plan file), lay it out into phases and
execute it, delegating each task to the worker whose capabilities match.

Adaptations that exceed the approval threshold wait for a decision. Answer
them in the TUI, or from another terminal with 'sleuth approve <id>' and
'sleuth reject <id>'. 'sleuth cancel' stops the run.

Finished conversations are written to the archive unless --no-archive is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "Read tasks from a YAML plan file")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "Use canned workers and the default template, no API calls")
	runCmd.Flags().DurationVar(&runOfflineDelay, "offline-delay", 200*time.Millisecond, "Simulated work time per task with --offline")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the interactive progress view")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Apply every adaptation without asking")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Approve a draft plan without prompting")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	runCmd.Flags().BoolVar(&runNoArchive, "no-archive", false, "Do not archive the conversation")
}

func runRun(cmd *cobra.Command, args []string) error {
	request, err := requestArg(args, runFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, runtimeOptions{
		offline:      runOffline,
		offlineDelay: runOfflineDelay,
		autoApprove:  runAutoApprove,
		archive:      !runNoArchive,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	conv, err := prepareConversation(ctx, out, rt, request, runFile)
	if err != nil {
		return err
	}

	if !runTUI {
		printPlan(out, conv.Plan(), conv.Tasks())
		fmt.Fprintln(out)
	}
	if plan := conv.Plan(); plan != nil && plan.Status == models.PlanDraft {
		if !runYes && !promptConfirm(cmd.InOrStdin(), out, "Execute this plan?") {
			printStatus(out, "■", "Plan not approved", color.FgYellow)
			return nil
		}
		if err := rt.planner.ApprovePlan(conv.ID()); err != nil {
			return err
		}
	}

	rt.planner.StartJanitor(ctx, cfg.Planner.SweepInterval)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	watcher, err := startSignals(ctx, cwd, rt, conv.ID())
	if err != nil {
		return err
	}
	defer watcher.Close()

	if runTUI {
		err = executeWithTUI(ctx, rt, conv)
	} else {
		printStatus(out, "▸", fmt.Sprintf("Running conversation %s", conv.ID()), color.FgCyan)
		fmt.Fprintf(out, "  stop it with 'sleuth cancel %s'\n\n", conv.ID())
		err = executeHeadless(ctx, out, rt, conv)
	}

	fmt.Fprintln(out)
	printOutcome(out, conv.Outcome())
	if rt.client != nil {
		tr := rt.client.Tracker()
		in, outTokens := tr.Total()
		fmt.Fprintf(out, "\n  %d completion call(s), %d input / %d output tokens, ~$%.2f\n", tr.Calls(), in, outTokens, tr.Cost())
	}

	if rt.archive != nil {
		if aerr := rt.planner.Archive(conv.ID()); aerr != nil {
			printStatus(out, "!", fmt.Sprintf("Archive failed: %v", aerr), color.FgYellow)
		} else {
			printStatus(out, "✓", fmt.Sprintf("Archived as %s", conv.ID()), color.FgGreen)
		}
	}

	if err != nil && !errors.Is(err, orchestrator.ErrCancelled) {
		return err
	}
	return nil
}

// startSignals watches the project's signal directory so other processes
// can cancel the run or answer adaptations.
func startSignals(ctx context.Context, root string, rt *runtime, convID string) (*signals.Watcher, error) {
	logf := rt.logger.Func()
	d := &signals.Dispatcher{
		Canceler: rt.planner,
		Active:   func() []string { return []string{convID} },
	}
	if rt.approvals != nil {
		d.Approvals = rt.approvals
	}
	d.SetDebugLog(logf)

	w, err := signals.NewWatcher(root, d, signals.WithDebugLog(logf))
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}

// executeHeadless runs the plan and prints events as they arrive.
func executeHeadless(ctx context.Context, w io.Writer, rt *runtime, conv *orchestrator.Conversation) error {
	done := make(chan error, 1)
	go func() {
		done <- rt.planner.ExecutePlan(ctx, conv)
	}()

	events := rt.planner.Events()
	for {
		select {
		case ev := <-events:
			if ev.ConversationID == conv.ID() {
				printEvent(w, ev)
			}
		case err := <-done:
			drainEvents(w, events, conv.ID())
			return err
		}
	}
}

func drainEvents(w io.Writer, events <-chan orchestrator.Event, convID string) {
	for {
		select {
		case ev := <-events:
			if ev.ConversationID == convID {
				printEvent(w, ev)
			}
		default:
			return
		}
	}
}

// executeWithTUI runs the plan behind the interactive view. Quitting the
// view while the plan runs cancels the conversation.
func executeWithTUI(ctx context.Context, rt *runtime, conv *orchestrator.Conversation) error {
	opts := []tui.Option{tui.WithCancel(rt.planner.Cancel)}
	if rt.approvals != nil {
		opts = append(opts, tui.WithResponder(rt.approvals.SubmitResponse))
	}
	model := tui.New(conv.Record(), opts...)

	program := tui.NewProgram(model, rt.planner.Events(), rt.approvalRequests())

	done := make(chan error, 1)
	go func() {
		err := rt.planner.ExecutePlan(ctx, conv)
		done <- err
		program.Send(tui.DoneMsg{Outcome: conv.Outcome(), Err: err})
	}()

	if _, err := program.Run(); err != nil {
		rt.planner.Cancel(conv.ID())
		<-done
		return fmt.Errorf("run tui: %w", err)
	}
	if !model.Done() {
		rt.planner.Cancel(conv.ID())
	}
	return <-done
}

// promptConfirm asks with an interactive form on a terminal and falls back
// to a plain y/N line otherwise.
func promptConfirm(in io.Reader, w io.Writer, question string) bool {
	f, ok := in.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return confirm(in, w, question)
	}
	approved := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(question).
			Affirmative("Run").
			Negative("Cancel").
			Value(&approved),
	))
	if err := form.Run(); err != nil {
		return false
	}
	return approved
}

// confirm asks a yes/no question on a line-oriented input.
func confirm(in io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(w)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
