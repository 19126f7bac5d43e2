package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/logging"
)

const replyInstruction = "You answer the phone for a local trades business. " +
	"Be concise, confirm the caller's intent, and offer to take a message or book a job. " +
	"One or two short sentences, spoken style, no lists."

const extractInstruction = "You extract structured lead details from a phone call transcript. " +
	"Respond with only a JSON object with keys: caller_name, suburb, job_type, " +
	`urgency (one of "today", "this_week", "flexible"), preferred_time, summary. ` +
	"Use empty strings for anything the caller did not say."

// ReplyFallback is spoken when the reasoning service is unavailable.
const ReplyFallback = "Sorry, I didn't quite catch that. Could you say it again?"

// Client talks to an OpenAI-compatible chat completions endpoint, once per
// finalized utterance for replies and once per call for lead extraction.
type Client struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client

	logger *slog.Logger
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logging.Component("dialog"),
	}
}

// Reply generates a short conversational answer to the latest utterance.
// Failures never propagate: the caller hears a fixed neutral phrase instead.
func (c *Client) Reply(ctx context.Context, utterance string) string {
	text, err := c.complete(ctx, replyInstruction, utterance)
	if err != nil {
		c.logger.Warn("reply_generation_failed",
			slog.String("reason_code", string(errorsx.ReasonLLMGenerate)),
			slog.String("error", err.Error()))
		return ReplyFallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ReplyFallback
	}
	return text
}

// ExtractLead asks for a strict-JSON summary of the whole transcript. Any
// service or parse failure yields the default-populated extraction.
func (c *Client) ExtractLead(ctx context.Context, transcript string) Extraction {
	if strings.TrimSpace(transcript) == "" {
		return DefaultExtraction(transcript)
	}
	raw, err := c.complete(ctx, extractInstruction, transcript)
	if err != nil {
		c.logger.Warn("lead_extraction_failed",
			slog.String("reason_code", string(errorsx.ReasonLLMExtract)),
			slog.String("error", err.Error()))
		return DefaultExtraction(transcript)
	}
	ext, err := ParseExtraction(raw)
	if err != nil {
		c.logger.Warn("lead_extraction_unparseable",
			slog.String("reason_code", string(errorsx.ReasonLLMExtract)),
			slog.String("error", err.Error()))
		return DefaultExtraction(transcript)
	}
	if ext.Summary == "" {
		ext.Summary = truncate(transcript, maxSummaryChars)
	}
	if !validUrgency(ext.Urgency) {
		ext.Urgency = UrgencyDefault
	}
	return ext
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("missing api key")
	}
	body, err := json.Marshal(map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.3,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.New(string(snippet))
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return "", errors.New("no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	return content, nil
}
