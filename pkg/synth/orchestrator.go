package synth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/logging"
	"github.com/voxlead/voxlead/pkg/resilience"
)

// Provider turns one utterance into companded 8 kHz audio bytes.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Orchestrator tries the primary provider and hands off to the fallback on
// any failure. A single handoff, no retries: a new caller utterance
// supersedes whatever reply was in flight, so there is nothing to win by
// hammering a broken provider. Repeated rate limits open a breaker that
// routes straight to the fallback until the cooldown passes.
type Orchestrator struct {
	primary  Provider
	fallback Provider
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

func NewOrchestrator(primary, fallback Provider) *Orchestrator {
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		breaker:  resilience.NewBreaker(3, 30*time.Second),
		logger:   logging.Component("synth"),
	}
}

// Synthesize returns companded 8 kHz audio for text. An empty result means
// "nothing to say": callers must not enqueue it.
func (o *Orchestrator) Synthesize(ctx context.Context, text string) []byte {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if o.primary != nil {
		if o.breaker.Allow() {
			out, err := o.primary.Synthesize(ctx, text)
			if err == nil && len(out) > 0 {
				o.breaker.OnSuccess()
				return out
			}
			o.breaker.OnError(err)
			o.logger.Warn("synth_primary_failed",
				slog.String("provider", o.primary.Name()),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", errString(err)))
		} else {
			o.logger.Warn("synth_primary_skipped",
				slog.String("provider", o.primary.Name()),
				slog.String("reason", "rate_limited"))
		}
	}
	if o.fallback == nil {
		return nil
	}
	out, err := o.fallback.Synthesize(ctx, text)
	if err != nil || len(out) == 0 {
		o.logger.Error("synth_fallback_failed",
			slog.String("provider", o.fallback.Name()),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", errString(err)))
		return nil
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return "empty audio"
	}
	return err.Error()
}
