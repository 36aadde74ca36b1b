package models

// PayloadKind names a payload variant.
type PayloadKind string

const (
	PayloadResearch   PayloadKind = "research"
	PayloadAnalysis   PayloadKind = "analysis"
	PayloadSynthesis  PayloadKind = "synthesis"
	PayloadCompliance PayloadKind = "compliance"
)

// Payload is the closed set of task inputs. Each task type family has its
// own variant; the unexported method keeps other packages from adding more.
type Payload interface {
	Kind() PayloadKind
	sealed()
}

// ResearchPayload is the input of data-gathering tasks.
type ResearchPayload struct {
	Query   string   `json:"query" yaml:"query"`
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`
	Depth   string   `json:"depth,omitempty" yaml:"depth,omitempty"`
}

// AnalysisPayload is the input of quantitative, risk and comparative analysis.
type AnalysisPayload struct {
	Subject string   `json:"subject" yaml:"subject"`
	Metrics []string `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Method  string   `json:"method,omitempty" yaml:"method,omitempty"`
}

// SynthesisPayload is the input of narrative synthesis and report drafting.
type SynthesisPayload struct {
	Audience string   `json:"audience,omitempty" yaml:"audience,omitempty"`
	Sections []string `json:"sections,omitempty" yaml:"sections,omitempty"`
}

// CompliancePayload is the input of compliance and regulatory reviews.
type CompliancePayload struct {
	Jurisdiction string   `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	Rules        []string `json:"rules,omitempty" yaml:"rules,omitempty"`
}

func (ResearchPayload) Kind() PayloadKind   { return PayloadResearch }
func (AnalysisPayload) Kind() PayloadKind   { return PayloadAnalysis }
func (SynthesisPayload) Kind() PayloadKind  { return PayloadSynthesis }
func (CompliancePayload) Kind() PayloadKind { return PayloadCompliance }

func (ResearchPayload) sealed()   {}
func (AnalysisPayload) sealed()   {}
func (SynthesisPayload) sealed()  {}
func (CompliancePayload) sealed() {}

// DefaultPayload returns an empty payload of the family matching the task type.
func DefaultPayload(t TaskType, subject string) Payload {
	switch t.Kind() {
	case PayloadAnalysis:
		return AnalysisPayload{Subject: subject}
	case PayloadSynthesis:
		return SynthesisPayload{}
	case PayloadCompliance:
		return CompliancePayload{}
	default:
		return ResearchPayload{Query: subject}
	}
}
