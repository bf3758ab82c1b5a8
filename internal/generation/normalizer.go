package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"genstudio/internal/domain"
)

const unknownErrorMessage = "Unknown error"

// Outcome is how a provider status string is read by the state machine.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeQueued
	OutcomeInProgress
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQueued:
		return "queued"
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusVocabulary maps provider status strings onto outcomes. Matching is
// case-insensitive. Queued is consulted before InProgress and is empty by
// default, in which case queued-like strings count as in progress.
type StatusVocabulary struct {
	Success    []string
	Failure    []string
	InProgress []string
	Queued     []string
}

// DefaultVocabulary covers the status strings seen across supported providers.
func DefaultVocabulary() StatusVocabulary {
	return StatusVocabulary{
		Success:    []string{"completed", "succeeded", "success", "done", "finished"},
		Failure:    []string{"failed", "failure", "error", "cancelled", "canceled", "timeout"},
		InProgress: []string{"pending", "processing", "queued", "in_progress", "running"},
	}
}

// Classify returns the outcome for a provider status string.
func (v StatusVocabulary) Classify(status string) Outcome {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return OutcomeUnknown
	}
	switch {
	case containsFold(v.Success, s):
		return OutcomeSuccess
	case containsFold(v.Failure, s):
		return OutcomeFailure
	case containsFold(v.Queued, s):
		return OutcomeQueued
	case containsFold(v.InProgress, s):
		return OutcomeInProgress
	default:
		return OutcomeUnknown
	}
}

func containsFold(set []string, s string) bool {
	for _, candidate := range set {
		if strings.EqualFold(strings.TrimSpace(candidate), s) {
			return true
		}
	}
	return false
}

// Normalized is the canonical view of one provider response.
type Normalized struct {
	Status  string
	Outcome Outcome
	URLs    []string
	// Error is only set when Outcome is OutcomeFailure.
	Error string
}

// Normalizer extracts status, artifact URLs and failure messages from
// provider payloads of unknown shape. It holds no state; the same input
// always yields the same output.
type Normalizer struct {
	SingleFields []string
	MultiFields  []string
	Vocabulary   StatusVocabulary
}

// DefaultNormalizer probes the field names used by supported providers.
func DefaultNormalizer() Normalizer {
	return Normalizer{
		SingleFields: []string{"image_url", "video_url", "audio_url", "url"},
		MultiFields:  []string{"image_urls", "video_urls", "audio_urls", "urls", "results"},
		Vocabulary:   DefaultVocabulary(),
	}
}

// Normalize runs the default normalizer over raw.
func Normalize(raw map[string]any) Normalized {
	return DefaultNormalizer().Normalize(raw)
}

// Normalize extracts the canonical result from a decoded provider payload.
func (n Normalizer) Normalize(raw map[string]any) Normalized {
	return n.normalize("", raw)
}

// NormalizeReport prefers the status reported by the client over the one
// found in the payload.
func (n Normalizer) NormalizeReport(report domain.StatusReport) Normalized {
	return n.normalize(report.Status, report.Raw)
}

// NormalizeJSON decodes data and normalizes it.
func (n Normalizer) NormalizeJSON(data []byte) (Normalized, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Normalized{}, fmt.Errorf("generation: decode provider payload: %w", err)
	}
	return n.Normalize(raw), nil
}

func (n Normalizer) normalize(status string, raw map[string]any) Normalized {
	output, _ := raw["output"].(map[string]any)
	status = strings.TrimSpace(status)
	if status == "" {
		status = firstString(raw, "status")
	}
	if status == "" {
		status = firstString(output, "status", "task_status")
	}
	res := Normalized{
		Status:  status,
		Outcome: n.Vocabulary.Classify(status),
		URLs:    n.extractURLs(raw, output),
	}
	if res.Outcome == OutcomeFailure {
		res.Error = extractError(raw, output)
	}
	return res
}

func (n Normalizer) extractURLs(raw, output map[string]any) []string {
	probes := []func() []string{
		func() []string { return singleURL(raw, n.SingleFields) },
		func() []string { return multiURL(raw, n.MultiFields) },
		func() []string { return singleURL(output, n.SingleFields) },
		func() []string { return multiURL(output, n.MultiFields) },
	}
	for _, probe := range probes {
		if urls := probe(); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func singleURL(m map[string]any, fields []string) []string {
	if m == nil {
		return nil
	}
	for _, field := range fields {
		if s, ok := m[field].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

func multiURL(m map[string]any, fields []string) []string {
	if m == nil {
		return nil
	}
	for _, field := range fields {
		if urls := urlList(m[field]); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func urlList(v any) []string {
	var out []string
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range list {
			switch entry := item.(type) {
			case string:
				if s := strings.TrimSpace(entry); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				if s, ok := entry["url"].(string); ok {
					if s = strings.TrimSpace(s); s != "" {
						out = append(out, s)
					}
				}
			}
		}
	}
	return out
}

func extractError(raw, output map[string]any) string {
	switch e := raw["error"].(type) {
	case string:
		if s := strings.TrimSpace(e); s != "" {
			return s
		}
	case map[string]any:
		if s := firstString(e, "message", "msg"); s != "" {
			return s
		}
	}
	if s := firstString(raw, "message", "error_message", "fail_reason"); s != "" {
		return s
	}
	if s := firstString(output, "message", "error_message"); s != "" {
		return s
	}
	return unknownErrorMessage
}

func firstString(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, key := range keys {
		if s, ok := m[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
