package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voxlead/voxlead/pkg/dialog"
	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/lead"
	"github.com/voxlead/voxlead/pkg/metrics"
	"github.com/voxlead/voxlead/pkg/pacing"
	"github.com/voxlead/voxlead/pkg/redact"
	"github.com/voxlead/voxlead/pkg/transcribe"
)

// Synthesizer turns reply text into companded 8 kHz audio. Empty output
// means nothing to say and is never enqueued.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) []byte
}

// Conversation generates per-utterance replies and the end-of-call
// extraction.
type Conversation interface {
	Reply(ctx context.Context, utterance string) string
	ExtractLead(ctx context.Context, transcript string) dialog.Extraction
}

// LeadSink receives the finalized record.
type LeadSink interface {
	Enabled() bool
	Dispatch(ctx context.Context, rec lead.Record) error
}

// BridgeFactory opens a transcription bridge for one call. Returning
// (nil, nil) signals that transcription is unconfigured: audio is silently
// dropped and the call continues without it.
type BridgeFactory func(sessionID, streamSID string) (transcribe.Bridge, error)

// Deps are the per-process collaborators shared by all sessions. They must
// be safe for concurrent use; each session's own state never is shared.
type Deps struct {
	Synth     Synthesizer
	Dialog    Conversation
	Leads     LeadSink
	NewBridge BridgeFactory
	Metrics   metrics.Observer
}

// Session owns one call: its websocket, pacing scheduler, transcription
// bridge and transcript log. Events are handled strictly in arrival order
// on the read loop; replies run on a single companion goroutine so one
// reply cycle finishes before the next finalized segment is taken up.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sched  *pacing.Scheduler
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	streamSID  string
	caller     string
	startedAt  time.Time
	transcript []string
	bridge     transcribe.Bridge
}

func newSession(ctx context.Context, conn *websocket.Conn, cfg Config, deps Deps) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		deps:   deps,
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		state:  StateConnected,
	}
	s.logger = slog.Default().With(
		slog.String("component", "session"),
		slog.String("session_id", s.id))
	s.sched = pacing.NewScheduler(sctx, s, pacing.Config{PrimeFrames: cfg.PrimeFrames})
	return s
}

// run drives the session until the provider stops the call or the transport
// drops. It must be called on the websocket's read goroutine.
func (s *Session) run() {
	defer s.teardown()
	s.logger.Info("session_connected")
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		evt, ok := decodeEvent(msg)
		if !ok {
			continue
		}
		switch e := evt.(type) {
		case StartEvent:
			s.handleStart(e)
		case MediaEvent:
			s.handleMedia(e)
		case StopEvent:
			s.handleStop()
			return
		}
	}
}

func (s *Session) handleStart(e StartEvent) {
	if !s.transition(StateStarted) {
		return
	}
	s.mu.Lock()
	s.streamSID = e.StreamSID
	s.caller = e.Caller
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("call_started",
		slog.String("stream_sid", e.StreamSID),
		slog.String("call_sid", e.CallSID),
		slog.String("caller", redact.Number(e.Caller)))

	if greeting := strings.TrimSpace(s.cfg.Greeting); greeting != "" && s.deps.Synth != nil {
		if out := s.deps.Synth.Synthesize(s.ctx, greeting); len(out) > 0 {
			s.sched.Enqueue(out)
		}
	}
}

func (s *Session) handleMedia(e MediaEvent) {
	s.mu.Lock()
	if s.state != StateStarted && s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if s.stateNow() == StateStarted {
		s.transition(StateActive)
	}

	bridge := s.ensureBridge()
	if bridge == nil {
		// transcription unconfigured or down; the call goes on without it
		return
	}
	_ = bridge.SendAudio(e.Audio)
}

func (s *Session) handleStop() {
	if !s.transition(StateStopped) {
		return
	}
	s.closeBridge()

	s.mu.Lock()
	transcript := strings.Join(s.transcript, "\n")
	caller := s.caller
	segments := len(s.transcript)
	startedAt := s.startedAt
	s.mu.Unlock()

	tags := map[string]string{"session_id": s.id}
	if !startedAt.IsZero() {
		metrics.Record(s.deps.Metrics, "call_duration_ms",
			float64(time.Since(startedAt).Milliseconds()), tags)
	}
	metrics.Record(s.deps.Metrics, "transcript_segments", float64(segments), tags)

	ext := s.deps.Dialog.ExtractLead(s.ctx, transcript)
	rec := lead.Record{
		CallerName:    ext.CallerName,
		CallerNumber:  caller,
		Suburb:        ext.Suburb,
		JobType:       ext.JobType,
		Urgency:       ext.Urgency,
		PreferredTime: ext.PreferredTime,
		Summary:       ext.Summary,
		BusinessName:  s.cfg.BusinessName,
		BusinessID:    s.cfg.BusinessID,
		SessionID:     s.id,
	}
	if s.deps.Leads != nil && s.deps.Leads.Enabled() {
		// fire-and-forget: teardown never waits on the sink
		go func() {
			_ = s.deps.Leads.Dispatch(context.Background(), rec)
		}()
	}
	s.logger.Info("call_stopped", slog.String("caller", redact.Number(caller)))
}

func (s *Session) teardown() {
	s.transition(StateClosed)
	s.closeBridge()
	s.sched.Stop()
	s.cancel()
	_ = s.conn.Close()
	s.logger.Info("session_closed")
}

// ensureBridge lazily opens the transcription bridge on the first audio
// event and starts the reply loop for its segments.
func (s *Session) ensureBridge() transcribe.Bridge {
	s.mu.Lock()
	if s.bridge != nil {
		b := s.bridge
		s.mu.Unlock()
		return b
	}
	s.mu.Unlock()

	if s.deps.NewBridge == nil {
		return nil
	}
	bridge, err := s.deps.NewBridge(s.id, s.streamSIDNow())
	if err != nil {
		s.logger.Warn("transcription_unavailable", slog.String("error", err.Error()))
		return nil
	}
	if bridge == nil {
		return nil
	}
	if err := bridge.Start(s.ctx); err != nil {
		s.logger.Warn("transcription_start_failed", slog.String("error", err.Error()))
		return nil
	}
	s.mu.Lock()
	s.bridge = bridge
	s.mu.Unlock()
	go s.replyLoop(bridge.Segments())
	return bridge
}

// replyLoop consumes transcription segments one at a time. A reply is fully
// generated, synthesized and enqueued before the next finalized segment is
// looked at, so replies never interleave within a session.
func (s *Session) replyLoop(segments <-chan transcribe.Segment) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case seg := <-segments:
			if !seg.Final || strings.TrimSpace(seg.Text) == "" {
				continue
			}
			s.mu.Lock()
			s.transcript = append(s.transcript, seg.Text)
			s.mu.Unlock()
			s.logger.Debug("utterance_final", slog.String("text", redact.Text(seg.Text)))

			begin := time.Now()
			reply := s.deps.Dialog.Reply(s.ctx, seg.Text)
			if out := s.deps.Synth.Synthesize(s.ctx, reply); len(out) > 0 {
				s.sched.Enqueue(out)
				metrics.Record(s.deps.Metrics, "reply_latency_ms",
					float64(time.Since(begin).Milliseconds()),
					map[string]string{"session_id": s.id})
			}
		}
	}
}

func (s *Session) closeBridge() {
	s.mu.Lock()
	bridge := s.bridge
	s.bridge = nil
	s.mu.Unlock()
	if bridge != nil {
		_ = bridge.Close()
	}
}

// WriteFrame implements pacing.Sink: it wraps one 160-byte frame in the
// provider's media envelope and writes it to the websocket.
func (s *Session) WriteFrame(frame []byte) error {
	media := map[string]any{
		"payload": base64.StdEncoding.EncodeToString(frame),
	}
	if s.cfg.DeclareTrack {
		media["track"] = "outbound"
	}
	if s.cfg.ContentTypeHint {
		media["contentType"] = "audio/x-mulaw"
	}
	msg := map[string]any{
		"event":     "media",
		"streamSid": s.streamSIDNow(),
		"media":     media,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return errorsx.Wrap(s.conn.WriteMessage(websocket.TextMessage, b), errorsx.ReasonTransportSend)
}

func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return false
	}
	if !transitionValid(s.state, to) {
		if to != StateClosed {
			s.logger.Warn("invalid_transition",
				slog.String("from", s.state.String()),
				slog.String("to", to.String()))
		}
		return false
	}
	from := s.state
	s.state = to
	s.logger.Debug("state_transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return true
}

func (s *Session) stateNow() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) streamSIDNow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// Transcript returns the finalized segments accumulated so far. Test and
// introspection helper; the live path joins exactly once at stop.
func (s *Session) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transcript...)
}

var _ pacing.Sink = (*Session)(nil)
