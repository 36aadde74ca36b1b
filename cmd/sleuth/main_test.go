package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/sleuth/internal/archive"
	"github.com/ShayCichocki/sleuth/internal/config"
	"github.com/ShayCichocki/sleuth/internal/orchestrator"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// testConfig returns defaults with the archive redirected into a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Archive.Path = filepath.Join(t.TempDir(), "archive.db")
	return cfg
}

func TestRequestArg(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		file    string
		want    string
		wantErr bool
	}{
		{"request only", []string{"  Assess Acme  "}, "", "Assess Acme", false},
		{"file only", nil, "plan.yaml", "", false},
		{"both", []string{"Assess Acme"}, "plan.yaml", "Assess Acme", false},
		{"neither", nil, "", "", true},
		{"blank request", []string{"   "}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requestArg(tt.args, tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requestArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("requestArg() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigKeysRoundTrip(t *testing.T) {
	cfg := config.Default()
	for _, key := range configKeys {
		if _, err := getConfigValue(cfg, key); err != nil {
			t.Errorf("getConfigValue(%q) error: %v", key, err)
		}
	}

	sets := map[string]string{
		"planner.max_parallel":     "8",
		"planner.task_timeout":     "45s",
		"adaptation.strategist":    "llm",
		"conflicts.min_confidence": "0.3",
		"archive.driver":           "sqlite3",
		"logging.debug":            "true",
	}
	for key, value := range sets {
		if err := setConfigValue(cfg, key, value); err != nil {
			t.Fatalf("setConfigValue(%q, %q) error: %v", key, value, err)
		}
		got, err := getConfigValue(cfg, key)
		if err != nil {
			t.Fatalf("getConfigValue(%q) error: %v", key, err)
		}
		if got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() after set: %v", err)
	}
}

func TestSetConfigValueRejectsBadInput(t *testing.T) {
	cfg := config.Default()
	tests := []struct{ key, value string }{
		{"planner.max_parallel", "many"},
		{"planner.task_timeout", "soon"},
		{"adaptation.enabled", "maybe"},
		{"no.such.key", "1"},
	}
	for _, tt := range tests {
		if err := setConfigValue(cfg, tt.key, tt.value); err == nil {
			t.Errorf("setConfigValue(%q, %q) expected error", tt.key, tt.value)
		}
	}
}

func TestMaskedAPIKeyDisplay(t *testing.T) {
	cfg := config.Default()
	got, _ := getConfigValue(cfg, "anthropic.api_key")
	if got != "(not set)" {
		t.Errorf("empty key shown as %q", got)
	}
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"
	got, _ = getConfigValue(cfg, "anthropic.api_key")
	if strings.Contains(got, "abcdefghijklmnop") {
		t.Errorf("key not masked: %q", got)
	}
}

func TestBuildRuntimeOffline(t *testing.T) {
	cfg := testConfig(t)
	rt, err := buildRuntime(cfg, runtimeOptions{offline: true, archive: true})
	if err != nil {
		t.Fatalf("buildRuntime() error: %v", err)
	}
	defer rt.Close()

	if rt.client != nil {
		t.Error("offline runtime should not create a completion client")
	}
	if rt.archive == nil {
		t.Error("archive should be open")
	}
	if rt.approvals == nil {
		t.Error("adaptation without --auto-approve needs an approval manager")
	}
	if rt.approvalRequests() == nil {
		t.Error("approvalRequests() should expose the manager's channel")
	}
}

func TestBuildRuntimeAutoApproveNoArchive(t *testing.T) {
	cfg := testConfig(t)
	rt, err := buildRuntime(cfg, runtimeOptions{offline: true, autoApprove: true})
	if err != nil {
		t.Fatalf("buildRuntime() error: %v", err)
	}
	defer rt.Close()

	if rt.approvals != nil {
		t.Error("auto-approve should not create an approval manager")
	}
	if rt.approvalRequests() != nil {
		t.Error("approvalRequests() should be nil without a manager")
	}
	if rt.archive != nil {
		t.Error("archive should stay closed")
	}
}

func TestBuildRuntimeRequiresCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := testConfig(t)
	cfg.Anthropic.APIKey = ""
	if _, err := buildRuntime(cfg, runtimeOptions{}); err == nil {
		t.Fatal("expected an error without credentials")
	}
}

func TestBuildRuntimeBadCapabilitiesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capabilities.File = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := buildRuntime(cfg, runtimeOptions{offline: true}); err == nil {
		t.Fatal("expected an error for a missing capabilities file")
	}
}

func TestHeadlessRunArchivesConversation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Adaptation.Enabled = false
	rt, err := buildRuntime(cfg, runtimeOptions{offline: true, archive: true})
	if err != nil {
		t.Fatalf("buildRuntime() error: %v", err)
	}
	defer rt.Close()

	var out bytes.Buffer
	ctx := context.Background()
	conv, err := prepareConversation(ctx, &out, rt, "Assess acquisition risk for Acme Corp", "")
	if err != nil {
		t.Fatalf("prepareConversation() error: %v", err)
	}
	if err := executeHeadless(ctx, &out, rt, conv); err != nil {
		t.Fatalf("executeHeadless() error: %v", err)
	}
	if conv.Status() != models.ConversationCompleted {
		t.Fatalf("status = %s, want completed", conv.Status())
	}

	printOutcome(&out, conv.Outcome())
	if !strings.Contains(out.String(), "Completed with confidence") {
		t.Errorf("outcome not printed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "phase 1 started") {
		t.Errorf("events not printed:\n%s", out.String())
	}

	if err := rt.planner.Archive(conv.ID()); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}
	id, err := resolveID(rt.archive, conv.ID()[:8])
	if err != nil {
		t.Fatalf("resolveID() error: %v", err)
	}
	if id != conv.ID() {
		t.Errorf("resolveID() = %s, want %s", id, conv.ID())
	}
	rec, err := rt.archive.GetConversation(id)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}

	var shown bytes.Buffer
	printRecord(&shown, rec)
	for _, want := range []string{"Conversation " + conv.ID(), "Tasks", "Estimate"} {
		if !strings.Contains(shown.String(), want) {
			t.Errorf("record output missing %q", want)
		}
	}
}

func TestResolveIDUnknown(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "a.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer store.Close()
	if _, err := resolveID(store, "deadbeef"); err == nil {
		t.Error("expected an error for an unknown prefix")
	}
}

const testPlanFile = `request: Assess Acme Corp acquisition risk
plan_type: expedited
tasks:
  - id: filings
    title: Collect filings
    type: data_collection
    estimated_duration: 2m
  - id: risk
    title: Assess risk
    type: risk_assessment
    depends_on: [filings]
`

func TestPrepareConversationFromFile(t *testing.T) {
	cfg := testConfig(t)
	rt, err := buildRuntime(cfg, runtimeOptions{offline: true})
	if err != nil {
		t.Fatalf("buildRuntime() error: %v", err)
	}
	defer rt.Close()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(testPlanFile), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	conv, err := prepareConversation(context.Background(), &out, rt, "", path)
	if err != nil {
		t.Fatalf("prepareConversation() error: %v\n%s", err, out.String())
	}
	if conv.Request() != "Assess Acme Corp acquisition risk" {
		t.Errorf("request = %q", conv.Request())
	}
	if conv.PlanType() != models.PlanExpedited {
		t.Errorf("plan type = %s, want expedited", conv.PlanType())
	}
	plan := conv.Plan()
	if plan == nil || len(plan.Phases) != 2 {
		t.Fatalf("expected a two-phase plan, got %+v", plan)
	}

	var printed bytes.Buffer
	printPlan(&printed, plan, conv.Tasks())
	if !strings.Contains(printed.String(), "Phase 2") || !strings.Contains(printed.String(), "Assess risk") {
		t.Errorf("plan output incomplete:\n%s", printed.String())
	}
}

func TestPrepareConversationRejectsCycle(t *testing.T) {
	cfg := testConfig(t)
	rt, err := buildRuntime(cfg, runtimeOptions{offline: true})
	if err != nil {
		t.Fatalf("buildRuntime() error: %v", err)
	}
	defer rt.Close()

	cyclic := `tasks:
  - id: a
    title: A
    type: data_collection
    depends_on: [b]
  - id: b
    title: B
    type: risk_assessment
    depends_on: [a]
`
	path := filepath.Join(t.TempDir(), "cyclic.yaml")
	if err := os.WriteFile(path, []byte(cyclic), 0644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if _, err := prepareConversation(context.Background(), &out, rt, "cyclic", path); err == nil {
		t.Fatal("expected an error for a cyclic plan file")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Go?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, orchestrator.Event{
		Type:         orchestrator.EventAdaptationPending,
		AdaptationID: "adapt-1",
		Message:      "impact 40%",
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if !strings.Contains(out.String(), "sleuth approve adapt-1") {
		t.Errorf("pending adaptation should print the approve hint:\n%s", out.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("a longer string", 8); got != "a lon..." {
		t.Errorf("truncate long = %q", got)
	}
}

func TestWritePlanFormats(t *testing.T) {
	cfg := testConfig(t)
	rt, err := buildRuntime(cfg, runtimeOptions{offline: true})
	if err != nil {
		t.Fatalf("buildRuntime() error: %v", err)
	}
	defer rt.Close()

	var log bytes.Buffer
	conv, err := prepareConversation(context.Background(), &log, rt, "Evaluate market entry for Globex", "")
	if err != nil {
		t.Fatalf("prepareConversation() error: %v", err)
	}

	tests := []struct {
		format string
		want   string
	}{
		{"text", "Phase 1"},
		{"yaml", "request: Evaluate market entry for Globex"},
		{"json", `"request": "Evaluate market entry for Globex"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var out bytes.Buffer
			if err := writePlan(&out, conv, tt.format); err != nil {
				t.Fatalf("writePlan(%s) error: %v", tt.format, err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("writePlan(%s) missing %q:\n%s", tt.format, tt.want, out.String())
			}
		})
	}
}

func TestPromptConfirmNonTerminal(t *testing.T) {
	var out bytes.Buffer
	if !promptConfirm(strings.NewReader("yes\n"), &out, "Execute this plan?") {
		t.Error("line input should fall back to the y/N prompt")
	}
	if !strings.Contains(out.String(), "[y/N]") {
		t.Errorf("fallback prompt not shown: %q", out.String())
	}
}
