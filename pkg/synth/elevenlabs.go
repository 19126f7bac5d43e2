package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxlead/voxlead/pkg/audio"
	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/resilience"
)

// ElevenLabs synthesizes speech over the HTTP endpoint, requesting mu-law
// 8 kHz output so no transcoding is needed on the happy path.
type ElevenLabs struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Client  *http.Client
}

func NewElevenLabs(apiKey, voiceID, modelID string) *ElevenLabs {
	return &ElevenLabs{
		APIKey:  apiKey,
		VoiceID: voiceID,
		ModelID: modelID,
		BaseURL: "https://api.elevenlabs.io",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return nil, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonSynthPrimary)
	}
	payload := map[string]any{
		"text": text,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}
	if e.ModelID != "" {
		payload["model_id"] = e.ModelID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := e.BaseURL + "/v1/text-to-speech/" + e.VoiceID + "?output_format=ulaw_8000"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthPrimary)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errorsx.Wrap(resilience.RateLimitError{
			Provider: e.Name(),
			Message:  "elevenlabs rate limited",
		}, errorsx.ReasonSynthPrimary)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorsx.Reasonf(errorsx.ReasonSynthPrimary, "elevenlabs status %d: %s", resp.StatusCode, snippet)
	}
	// error payloads can arrive with a 2xx status; trust the content type
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorsx.Reasonf(errorsx.ReasonSynthPrimary, "elevenlabs error payload: %s", snippet)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthPrimary)
	}
	// the provider may wrap the response in a container despite the raw request
	return audio.StripWAVHeader(raw), nil
}
