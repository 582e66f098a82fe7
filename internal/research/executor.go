package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Schema names the output shape a stage requests from the executor.
type Schema string

const (
	SchemaURLBuckets       Schema = "url_buckets"
	SchemaSpecialistOutput Schema = "specialist_output"
	SchemaMarkdown         Schema = "markdown"
)

// ExecRequest describes one agent execution: a role, a goal, the tools
// the agent may use, and the output schema expected back. Query, URLs
// and Platform carry the structured inputs the tool layer needs
// without re-parsing them out of the goal text.
type ExecRequest struct {
	Role     string
	Goal     string
	Tools    []string
	Schema   Schema
	Query    string
	Platform Platform
	URLs     []string
}

// ResultKind tags the shape an executor result arrived in.
type ResultKind int

const (
	// ResultStructured carries JSON matching the requested schema.
	ResultStructured ResultKind = iota
	// ResultRawText carries free text that may still parse as JSON.
	ResultRawText
	// ResultMalformed carries nothing usable; callers degrade to a
	// safe default.
	ResultMalformed
)

// ExecResult is the tagged outcome of an agent execution.
type ExecResult struct {
	Kind       ResultKind
	Structured json.RawMessage
	Text       string
}

// StructuredResult wraps a JSON payload.
func StructuredResult(raw json.RawMessage) ExecResult {
	return ExecResult{Kind: ResultStructured, Structured: raw}
}

// RawTextResult wraps free text.
func RawTextResult(text string) ExecResult {
	return ExecResult{Kind: ResultRawText, Text: text}
}

// MalformedResult marks an unusable outcome.
func MalformedResult() ExecResult {
	return ExecResult{Kind: ResultMalformed}
}

// AgentExecutor executes one agent goal, possibly invoking tools, and
// returns a structured result or fails. Implementations may take
// seconds to minutes; they must honor ctx cancellation.
type AgentExecutor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// stripCodeFence removes a surrounding markdown code fence so that
// fenced JSON from an LLM still parses.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ClassifyText wraps raw model output as an ExecResult, tagging it
// structured when it parses as JSON after fence stripping.
func ClassifyText(text string) ExecResult {
	stripped := stripCodeFence(text)
	if json.Valid([]byte(stripped)) && (strings.HasPrefix(stripped, "{") || strings.HasPrefix(stripped, "[")) {
		return StructuredResult(json.RawMessage(stripped))
	}
	if strings.TrimSpace(text) == "" {
		return MalformedResult()
	}
	return RawTextResult(text)
}

// CoerceURLBuckets turns an executor result into URLBuckets, attempting
// a structured re-parse of raw text before giving up. The second return
// is false when the caller should treat the buckets as a degraded
// all-empty default.
func CoerceURLBuckets(res ExecResult) (URLBuckets, bool) {
	var buckets URLBuckets
	switch res.Kind {
	case ResultStructured:
		if err := json.Unmarshal(res.Structured, &buckets); err != nil {
			return URLBuckets{}, false
		}
		return buckets, true
	case ResultRawText:
		if err := json.Unmarshal([]byte(stripCodeFence(res.Text)), &buckets); err != nil {
			return URLBuckets{}, false
		}
		return buckets, true
	default:
		return URLBuckets{}, false
	}
}

// CoerceSpecialistOutput turns an executor result into a
// SpecialistOutput for the given platform. The returned URL is forced
// to one of the dispatched URLs: result attribution is a correctness
// contract, and an executor echoing back a URL it was never handed is
// treated as having processed the first one.
func CoerceSpecialistOutput(res ExecResult, platform Platform, urls []string) (SpecialistOutput, error) {
	var out SpecialistOutput
	switch res.Kind {
	case ResultStructured:
		if err := json.Unmarshal(res.Structured, &out); err != nil {
			return SpecialistOutput{}, fmt.Errorf("specialist output did not match schema: %w", err)
		}
	case ResultRawText:
		if err := json.Unmarshal([]byte(stripCodeFence(res.Text)), &out); err != nil {
			// Free text is still a usable summary.
			out = SpecialistOutput{Summary: res.Text}
		}
	default:
		return SpecialistOutput{}, fmt.Errorf("specialist output malformed")
	}

	out.Platform = platform
	if out.Metadata == nil {
		out.Metadata = map[string]interface{}{}
	}
	if len(urls) > 0 && !containsURL(urls, out.URL) {
		out.URL = urls[0]
	}
	if strings.TrimSpace(out.Summary) == "" {
		return SpecialistOutput{}, fmt.Errorf("specialist output had an empty summary")
	}
	return out, nil
}

// CoerceText extracts the narrative text from an executor result.
func CoerceText(res ExecResult) (string, error) {
	switch res.Kind {
	case ResultStructured:
		// Accept either a JSON string or an object with a result field.
		var s string
		if err := json.Unmarshal(res.Structured, &s); err == nil && strings.TrimSpace(s) != "" {
			return s, nil
		}
		var obj struct {
			Result string `json:"result"`
		}
		if err := json.Unmarshal(res.Structured, &obj); err == nil && strings.TrimSpace(obj.Result) != "" {
			return obj.Result, nil
		}
		return "", fmt.Errorf("structured result carried no text")
	case ResultRawText:
		if strings.TrimSpace(res.Text) == "" {
			return "", fmt.Errorf("empty result text")
		}
		return res.Text, nil
	default:
		return "", fmt.Errorf("malformed result")
	}
}

func containsURL(urls []string, u string) bool {
	for _, candidate := range urls {
		if candidate == u {
			return true
		}
	}
	return false
}
