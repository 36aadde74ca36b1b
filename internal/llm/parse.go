package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// StructuredResponseParseError reports model output that could not be read
// as the expected JSON shape. Consumers recover from it with Parsed.OrDefault.
type StructuredResponseParseError struct {
	Raw string
	Err error
}

func (e *StructuredResponseParseError) Error() string {
	return fmt.Sprintf("parse structured response: %v (response: %s)", e.Err, Truncate(e.Raw, 200))
}

func (e *StructuredResponseParseError) Unwrap() error { return e.Err }

// Parsed is the outcome of parsing a structured response: either a value
// or the parse error. There is no way to read the value without handling
// the error branch, either by checking Err or by supplying a default.
type Parsed[T any] struct {
	value T
	err   error
}

// Ok reports whether parsing succeeded.
func (p Parsed[T]) Ok() bool { return p.err == nil }

// Err returns the parse error, or nil.
func (p Parsed[T]) Err() error { return p.err }

// Get returns the value and the parse error.
func (p Parsed[T]) Get() (T, error) { return p.value, p.err }

// OrDefault returns the parsed value, or def when parsing failed.
func (p Parsed[T]) OrDefault(def T) T {
	if p.err != nil {
		return def
	}
	return p.value
}

// OrElse returns the parsed value, or the result of fallback called with the error.
func (p Parsed[T]) OrElse(fallback func(error) T) T {
	if p.err != nil {
		return fallback(p.err)
	}
	return p.value
}

// ExtractJSON returns the span from the first '{' or '[' to the last
// matching closer. Models often wrap JSON in prose or code fences.
func ExtractJSON(response string) (string, bool) {
	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return "", false
	}
	closer := "}"
	if response[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(response, closer)
	if end <= start {
		return "", false
	}
	return response[start : end+1], true
}

// ParseJSON extracts and decodes the JSON object or array in a model response.
func ParseJSON[T any](response string) Parsed[T] {
	var v T
	jsonStr, ok := ExtractJSON(response)
	if !ok {
		return Parsed[T]{err: &StructuredResponseParseError{Raw: response, Err: fmt.Errorf("no JSON found")}}
	}
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		return Parsed[T]{err: &StructuredResponseParseError{Raw: response, Err: err}}
	}
	return Parsed[T]{value: v}
}

// Truncate shortens s to at most maxLen bytes, appending "..." when cut.
// The cut backs off to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 0 {
		maxLen = 0
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
