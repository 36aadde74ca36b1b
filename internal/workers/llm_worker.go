package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/sleuth/internal/delegate"
	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

// summaryLimit caps the raw text kept as summary when the reply cannot be parsed.
const summaryLimit = 500

// DefaultConfidence is the confidence a role reports when its reply
// carries no usable structure.
var DefaultConfidence = map[models.WorkerRole]float64{
	models.RoleResearch:   0.8,
	models.RoleAnalysis:   0.75,
	models.RoleSynthesis:  0.85,
	models.RoleCompliance: 0.7,
}

// structuredResult is the JSON shape requested by resultFormat.
type structuredResult struct {
	Subject         string   `json:"subject"`
	Category        string   `json:"category"`
	Claim           string   `json:"claim"`
	Confidence      *float64 `json:"confidence"`
	Summary         string   `json:"summary"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
	Sources         []string `json:"sources"`
	Invalidates     []string `json:"invalidates"`
}

// LLMWorker executes tasks for one role through the completion service.
type LLMWorker struct {
	role      models.WorkerRole
	completer llm.Completer
	debugLog  func(format string, args ...interface{})
}

var _ delegate.Worker = (*LLMWorker)(nil)

// NewLLMWorker creates a worker for role backed by c.
func NewLLMWorker(role models.WorkerRole, c llm.Completer) *LLMWorker {
	return &LLMWorker{
		role:      role,
		completer: c,
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (w *LLMWorker) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		w.debugLog = fn
	}
}

// Role returns the role the worker serves.
func (w *LLMWorker) Role() models.WorkerRole { return w.role }

// Handle runs one request. Completion failures are returned as errors;
// malformed replies are recovered with role defaults.
func (w *LLMWorker) Handle(ctx context.Context, msg models.AgentMessage) (models.AgentMessage, error) {
	req, ok := msg.Body.(models.RequestBody)
	if !ok {
		return msg.Reply(uuid.New().String(), models.ErrorBody{Reason: fmt.Sprintf("unexpected %s message", msg.Type())}), nil
	}

	raw, err := w.completer.Complete(ctx, SystemPrompt(w.role), BuildPrompt(req))
	if err != nil {
		return models.AgentMessage{}, fmt.Errorf("%s completion for task %s: %w", w.role, req.TaskID, err)
	}

	result := w.parse(req, raw)
	return msg.Reply(uuid.New().String(), models.ResponseBody{TaskID: req.TaskID, Result: result}), nil
}

func (w *LLMWorker) parse(req models.RequestBody, raw string) *models.TaskResult {
	recovered := false
	sr := llm.ParseJSON[structuredResult](raw).OrElse(func(err error) structuredResult {
		w.debugLog("[workers.%s] task %s: %v", w.role, req.TaskID, err)
		recovered = true
		return structuredResult{}
	})

	result := &models.TaskResult{
		Subject:         strings.TrimSpace(sr.Subject),
		Category:        strings.TrimSpace(sr.Category),
		Claim:           strings.TrimSpace(sr.Claim),
		Confidence:      DefaultConfidence[w.role],
		Summary:         sr.Summary,
		Findings:        nonNil(sr.Findings),
		Recommendations: nonNil(sr.Recommendations),
		Sources:         sr.Sources,
		Invalidates:     sr.Invalidates,
		Raw:             raw,
		Recovered:       recovered,
	}
	if sr.Confidence != nil && *sr.Confidence >= 0 && *sr.Confidence <= 1 {
		result.Confidence = *sr.Confidence
	}
	if result.Summary == "" {
		result.Summary = llm.Truncate(strings.TrimSpace(raw), summaryLimit)
	}
	if result.Subject == "" {
		result.Subject = subjectOf(req)
	}
	if result.Category == "" {
		result.Category = "claim"
	}
	return result
}

// subjectOf derives a subject from the payload when the reply names none.
func subjectOf(req models.RequestBody) string {
	switch p := req.Payload.(type) {
	case models.AnalysisPayload:
		if p.Subject != "" {
			return p.Subject
		}
	case models.ResearchPayload:
		if p.Query != "" {
			return p.Query
		}
	}
	return req.Title
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// NewLLMWorkers returns one LLMWorker per known role sharing c.
func NewLLMWorkers(c llm.Completer, debugLog func(format string, args ...interface{})) map[models.WorkerRole]delegate.Worker {
	out := make(map[models.WorkerRole]delegate.Worker, len(models.AllRoles()))
	for _, role := range models.AllRoles() {
		w := NewLLMWorker(role, c)
		w.SetDebugLog(debugLog)
		out[role] = w
	}
	return out
}
