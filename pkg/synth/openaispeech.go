package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/voxlead/voxlead/pkg/audio"
	"github.com/voxlead/voxlead/pkg/errorsx"
)

const openAISpeechRate = 24000

// OpenAISpeech is the secondary synthesis path. The speech endpoint returns
// wideband 24 kHz 16-bit linear PCM, which is decimated to 8 kHz and
// companded before use.
type OpenAISpeech struct {
	APIKey  string
	Model   string
	Voice   string
	BaseURL string
	Client  *http.Client
}

func NewOpenAISpeech(apiKey, model, voice string) *OpenAISpeech {
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAISpeech{
		APIKey:  apiKey,
		Model:   model,
		Voice:   voice,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OpenAISpeech) Name() string { return "openai_speech" }

func (o *OpenAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if o.APIKey == "" {
		return nil, errorsx.Wrap(errors.New("missing openai config"), errorsx.ReasonSynthFallback)
	}
	body, err := json.Marshal(map[string]any{
		"model":           o.Model,
		"voice":           o.Voice,
		"input":           text,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthFallback)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorsx.Reasonf(errorsx.ReasonSynthFallback, "openai speech status %d: %s", resp.StatusCode, snippet)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSynthFallback)
	}
	pcm := audio.PCMFromLE(audio.StripWAVHeader(raw))
	return audio.EncodeMulaw(audio.Decimate(pcm, openAISpeechRate, 8000)), nil
}
