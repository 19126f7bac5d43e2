package dialog

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// Urgency values for the extracted lead. UrgencyDefault is the mid-priority
// value used whenever extraction cannot determine one.
const (
	UrgencyToday    = "today"
	UrgencyThisWeek = "this_week"
	UrgencyFlexible = "flexible"

	UrgencyDefault = UrgencyThisWeek
)

const maxSummaryChars = 600

// hangupSummary stands in for the summary when the caller hung up without
// saying anything usable.
const hangupSummary = "Caller hung up before leaving any details."

// Extraction is the structured output of end-of-call lead extraction.
type Extraction struct {
	CallerName    string `json:"caller_name"`
	Suburb        string `json:"suburb"`
	JobType       string `json:"job_type"`
	Urgency       string `json:"urgency"`
	PreferredTime string `json:"preferred_time"`
	Summary       string `json:"summary"`
}

// ParseExtraction pulls the JSON object out of a model response that may be
// wrapped in extraneous prose. The contract is the bounding-brace span, first
// '{' to last '}', isolated here so its fallback behavior stays
// independently testable.
func ParseExtraction(raw string) (Extraction, error) {
	span, ok := extractJSON(raw)
	if !ok {
		return Extraction{}, errors.New("no json object in response")
	}
	var ext Extraction
	if err := json.Unmarshal([]byte(span), &ext); err != nil {
		return Extraction{}, err
	}
	return ext, nil
}

// DefaultExtraction is the safe record used when extraction fails or the
// transcript is empty: enumerated fields empty, urgency mid-priority, and a
// summary of whatever the caller actually said.
func DefaultExtraction(transcript string) Extraction {
	summary := hangupSummary
	if strings.TrimSpace(transcript) != "" {
		summary = truncate(transcript, maxSummaryChars)
	}
	return Extraction{
		Urgency: UrgencyDefault,
		Summary: summary,
	}
}

func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func validUrgency(u string) bool {
	switch u {
	case UrgencyToday, UrgencyThisWeek, UrgencyFlexible:
		return true
	}
	return false
}

// truncate cuts s to at most n bytes, backing off to a rune boundary so the
// result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
