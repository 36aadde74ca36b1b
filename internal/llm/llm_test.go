package llm

import (
	"errors"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key-123"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want default sonnet", client.Model())
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	original, had := os.LookupEnv("ANTHROPIC_API_KEY")
	os.Unsetenv("ANTHROPIC_API_KEY")
	t.Cleanup(func() {
		if had {
			os.Setenv("ANTHROPIC_API_KEY", original)
		}
	})

	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("NewClient should fail without API key")
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want anthropic.Model
	}{
		{anthropic.ModelClaudeSonnet4_20250514, "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{"custom-model", "custom-model"},
	}
	for _, tt := range tests {
		if got := translateModelForBedrock(tt.in); got != tt.want {
			t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(1_000_000, 0)
	tr.Add(0, 1_000_000)

	in, out := tr.Total()
	if in != 1_000_000 || out != 1_000_000 {
		t.Errorf("Total() = %d, %d", in, out)
	}
	if tr.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", tr.Calls())
	}
	if c := tr.Cost(); c != 18.0 {
		t.Errorf("Cost() = %f, want 18", c)
	}
}

type verdict struct {
	Claim      string  `json:"claim"`
	Confidence float64 `json:"confidence"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		ok       bool
		want     verdict
	}{
		{"plain", `{"claim":"high","confidence":0.9}`, true, verdict{"high", 0.9}},
		{"wrapped in prose", "Here you go:\n```json\n{\"claim\":\"low\",\"confidence\":0.4}\n```\nDone.", true, verdict{"low", 0.4}},
		{"no json", "I cannot answer that.", false, verdict{}},
		{"malformed", `{"claim": "high", "confidence": }`, false, verdict{}},
		{"wrong types", `{"claim": 3}`, false, verdict{}},
	}

	def := verdict{"unknown", 0.7}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseJSON[verdict](tt.response)
			if p.Ok() != tt.ok {
				t.Fatalf("Ok() = %v, want %v (err %v)", p.Ok(), tt.ok, p.Err())
			}
			got := p.OrDefault(def)
			if tt.ok && got != tt.want {
				t.Errorf("OrDefault = %+v, want %+v", got, tt.want)
			}
			if !tt.ok {
				if got != def {
					t.Errorf("OrDefault on failure = %+v, want default", got)
				}
				var pe *StructuredResponseParseError
				if !errors.As(p.Err(), &pe) {
					t.Errorf("expected StructuredResponseParseError, got %T", p.Err())
				}
			}
		})
	}
}

func TestParseJSON_Array(t *testing.T) {
	p := ParseJSON[[]string](`result: ["a", "b"]`)
	got := p.OrDefault(nil)
	if len(got) != 2 || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}

func TestParsed_OrElse(t *testing.T) {
	p := ParseJSON[verdict]("nope")
	got := p.OrElse(func(err error) verdict { return verdict{Claim: "fallback"} })
	if got.Claim != "fallback" {
		t.Errorf("OrElse = %+v", got)
	}
}

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string should be unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("Truncate = %q", Truncate("hello world", 5))
	}

	accented := strings.Repeat("é", 10)
	got := Truncate(accented, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncate split a rune: %q", got)
	}
	if got != "éé..." {
		t.Errorf("Truncate = %q, want %q", got, "éé...")
	}
	if got := Truncate("日本語", 2); got != "..." {
		t.Errorf("Truncate = %q, want %q", got, "...")
	}
}
