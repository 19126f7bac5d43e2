package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/logging"
	"github.com/voxlead/voxlead/pkg/redact"
)

// Record is the structured summary of one call, produced once at call end
// and posted to the workflow webhook.
type Record struct {
	CallerName    string `json:"caller_name"`
	CallerNumber  string `json:"caller_number"`
	Suburb        string `json:"suburb"`
	JobType       string `json:"job_type"`
	Urgency       string `json:"urgency"`
	PreferredTime string `json:"preferred_time"`
	Summary       string `json:"summary"`
	BusinessName  string `json:"business_name,omitempty"`
	BusinessID    string `json:"business_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// Dispatcher posts finalized records to an external sink. Delivery is
// fire-and-forget with a bounded timeout: failures are logged, never
// retried, and never surfaced to the caller.
type Dispatcher struct {
	WebhookURL string
	Timeout    time.Duration
	Client     *http.Client

	logger *slog.Logger
}

func NewDispatcher(webhookURL string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		WebhookURL: webhookURL,
		Timeout:    timeout,
		Client:     &http.Client{},
		logger:     logging.Component("lead"),
	}
}

// Enabled reports whether a sink is configured at all. No configuration
// means dispatch is silently disabled, not an error.
func (d *Dispatcher) Enabled() bool { return d.WebhookURL != "" }

func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) error {
	if !d.Enabled() {
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		d.logger.Warn("lead_dispatch_failed",
			slog.String("reason_code", string(errorsx.ReasonLeadDispatch)),
			slog.String("session_id", rec.SessionID),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonLeadDispatch)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("lead_dispatch_rejected",
			slog.String("session_id", rec.SessionID),
			slog.Int("status", resp.StatusCode))
		return errorsx.Reasonf(errorsx.ReasonLeadDispatch, "lead sink status %d", resp.StatusCode)
	}
	d.logger.Info("lead_dispatched",
		slog.String("session_id", rec.SessionID),
		slog.String("caller_number", redact.Number(rec.CallerNumber)))
	return nil
}
