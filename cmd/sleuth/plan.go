package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/sleuth/internal/decompose"
	"github.com/ShayCichocki/sleuth/internal/orchestrator"
)

var (
	planFile    string
	planOut     string
	planOffline bool
	planFormat  string
)

var planCmd = &cobra.Command{
	Use:   "plan [request]",
	Short: "Decompose a request and print the plan without running it",
	Long: `Decompose an investigative request into tasks, lay them out into phases and
print the plan with its resource estimate. Nothing is dispatched.

Use --out to write the plan as an editable YAML plan file, which can be fed
back to 'sleuth run --file'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "", "Read tasks from a YAML plan file instead of decomposing a request")
	planCmd.Flags().StringVarP(&planOut, "out", "o", "", "Write the plan as a YAML plan file")
	planCmd.Flags().BoolVar(&planOffline, "offline", false, "Use the default template instead of the completion service")
	planCmd.Flags().StringVar(&planFormat, "format", "text", "Output format: text, yaml or json")
}

func runPlan(cmd *cobra.Command, args []string) error {
	request, err := requestArg(args, planFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg, runtimeOptions{offline: planOffline})
	if err != nil {
		return err
	}
	defer rt.Close()

	switch planFormat {
	case "text", "yaml", "json":
	default:
		return fmt.Errorf("unknown format %q (want text, yaml or json)", planFormat)
	}

	out := cmd.OutOrStdout()
	conv, err := prepareConversation(cmd.Context(), cmd.ErrOrStderr(), rt, request, planFile)
	if err != nil {
		return err
	}

	if err := writePlan(out, conv, planFormat); err != nil {
		return err
	}

	if planOut != "" {
		data, err := decompose.MarshalPlanFile(conv.Request(), conv.PlanType(), conv.Tasks())
		if err != nil {
			return fmt.Errorf("render plan file: %w", err)
		}
		if err := os.WriteFile(planOut, data, 0644); err != nil {
			return fmt.Errorf("write plan file: %w", err)
		}
		printStatus(cmd.ErrOrStderr(), "✓", fmt.Sprintf("Plan written to %s", planOut), color.FgGreen)
	}
	return nil
}

// writePlan renders a planned conversation in the given format.
func writePlan(w io.Writer, conv *orchestrator.Conversation, format string) error {
	switch format {
	case "yaml":
		data, err := decompose.MarshalPlanFile(conv.Request(), conv.PlanType(), conv.Tasks())
		if err != nil {
			return fmt.Errorf("render plan file: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(conv.Record())
	default:
		printPlan(w, conv.Plan(), conv.Tasks())
		return nil
	}
}

// requestArg returns the request text. It is optional when a plan file is given.
func requestArg(args []string, file string) (string, error) {
	var request string
	if len(args) > 0 {
		request = strings.TrimSpace(args[0])
	}
	if request == "" && file == "" {
		return "", fmt.Errorf("a request or --file is required")
	}
	return request, nil
}

// prepareConversation builds a planned conversation either from a plan
// file or by decomposing the request. Validation problems in a plan file
// are printed; errors abort.
func prepareConversation(ctx context.Context, w io.Writer, rt *runtime, request, file string) (*orchestrator.Conversation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if file == "" {
		conv, err := rt.planner.Plan(ctx, request)
		if err != nil {
			return nil, err
		}
		return conv, nil
	}

	d, err := decompose.LoadPlanFile(file)
	if err != nil {
		return nil, err
	}
	if request == "" {
		request = d.Request
	}
	if request == "" {
		request = file
	}

	result := decompose.NewValidator(rt.registry).Validate(d.Tasks)
	for _, warn := range result.Warnings {
		printStatus(w, "!", warn, color.FgYellow)
	}
	if !result.Valid {
		for _, e := range result.Errors {
			printStatus(w, "✗", e, color.FgRed)
		}
		return nil, fmt.Errorf("plan file %s is invalid", file)
	}

	conv, err := rt.planner.NewConversation(request, d.PlanType, d.Tasks)
	if err != nil {
		return nil, err
	}
	if err := rt.planner.CreatePlan(conv); err != nil {
		return nil, err
	}
	return conv, nil
}
