// Package workers provides the worker implementations registered with the
// delegator: one LLM-backed worker per role and a deterministic offline worker.
package workers

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// resultFormat is appended to every role prompt.
const resultFormat = `Reply with JSON only, in this exact structure:
{
  "subject": "what the result is about (company, product, market, regulation)",
  "category": "risk_assessment|recommendation|claim",
  "claim": "the normalized verdict: a risk level (low, medium, high, critical), a recommendation (buy, hold, sell, proceed, avoid) or a one-line claim",
  "confidence": 0.0,
  "summary": "narrative summary",
  "findings": ["individual observations"],
  "recommendations": ["suggested actions"],
  "sources": ["references consulted"]
}
Confidence is between 0 and 1 and reflects how well the evidence supports the claim.`

var systemPrompts = map[models.WorkerRole]string{
	models.RoleResearch: `You are a research specialist. You gather and summarize source material: literature, datasets, market data and primary documents.
Cite what you rely on. Prefer primary sources. Say so when evidence is thin.`,
	models.RoleAnalysis: `You are an analysis specialist. You evaluate gathered material quantitatively: risk levels, trends, comparisons and metrics.
State the method you applied and the assumptions behind every number.`,
	models.RoleSynthesis: `You are a synthesis specialist. You combine upstream findings into a coherent narrative for the stated audience.
Resolve overlaps, flag contradictions, and do not introduce facts that are not in the upstream results.`,
	models.RoleCompliance: `You are a compliance specialist. You check findings and recommendations against regulatory constraints for the stated jurisdiction.
Name each rule you checked and whether it is satisfied.`,
}

// SystemPrompt returns the system prompt for a role.
func SystemPrompt(role models.WorkerRole) string {
	return systemPrompts[role] + "\n\n" + resultFormat
}

// BuildPrompt renders the task, its typed payload and the upstream results
// into the user prompt.
func BuildPrompt(req models.RequestBody) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Task\n\n%s (%s)\n\n", req.Title, req.TaskType)

	switch p := req.Payload.(type) {
	case models.ResearchPayload:
		fmt.Fprintf(&sb, "Query: %s\n", p.Query)
		if len(p.Sources) > 0 {
			fmt.Fprintf(&sb, "Preferred sources: %s\n", strings.Join(p.Sources, ", "))
		}
		if p.Depth != "" {
			fmt.Fprintf(&sb, "Depth: %s\n", p.Depth)
		}
	case models.AnalysisPayload:
		fmt.Fprintf(&sb, "Subject: %s\n", p.Subject)
		if len(p.Metrics) > 0 {
			fmt.Fprintf(&sb, "Metrics: %s\n", strings.Join(p.Metrics, ", "))
		}
		if p.Method != "" {
			fmt.Fprintf(&sb, "Method: %s\n", p.Method)
		}
	case models.SynthesisPayload:
		if p.Audience != "" {
			fmt.Fprintf(&sb, "Audience: %s\n", p.Audience)
		}
		if len(p.Sections) > 0 {
			fmt.Fprintf(&sb, "Sections: %s\n", strings.Join(p.Sections, ", "))
		}
	case models.CompliancePayload:
		if p.Jurisdiction != "" {
			fmt.Fprintf(&sb, "Jurisdiction: %s\n", p.Jurisdiction)
		}
		if len(p.Rules) > 0 {
			fmt.Fprintf(&sb, "Rules: %s\n", strings.Join(p.Rules, ", "))
		}
	}

	if len(req.Upstream) > 0 {
		sb.WriteString("\n## Upstream results\n\n")
		ids := make([]string, 0, len(req.Upstream))
		for id := range req.Upstream {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r := req.Upstream[id]
			if r == nil {
				continue
			}
			view := struct {
				Subject    string   `json:"subject"`
				Claim      string   `json:"claim"`
				Confidence float64  `json:"confidence"`
				Summary    string   `json:"summary"`
				Findings   []string `json:"findings,omitempty"`
			}{r.Subject, r.Claim, r.Confidence, llm.Truncate(r.Summary, 1500), r.Findings}
			data, _ := json.Marshal(view)
			fmt.Fprintf(&sb, "- %s: %s\n", id, data)
		}
	}
	return sb.String()
}
