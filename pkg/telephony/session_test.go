package telephony

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxlead/voxlead/pkg/audio"
	"github.com/voxlead/voxlead/pkg/dialog"
	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/lead"
	"github.com/voxlead/voxlead/pkg/metrics"
	"github.com/voxlead/voxlead/pkg/transcribe"
)

type stubSynth struct {
	mu    sync.Mutex
	calls []string
	out   []byte
}

func (s *stubSynth) Synthesize(ctx context.Context, text string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	return s.out
}

func (s *stubSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubDialog struct{}

func (stubDialog) Reply(ctx context.Context, utterance string) string {
	return "reply to: " + utterance
}

func (stubDialog) ExtractLead(ctx context.Context, transcript string) dialog.Extraction {
	return dialog.DefaultExtraction(transcript)
}

type stubSink struct {
	mu   sync.Mutex
	recs []lead.Record
	ch   chan lead.Record
}

func newStubSink() *stubSink { return &stubSink{ch: make(chan lead.Record, 4)} }

func (s *stubSink) Enabled() bool { return true }

func (s *stubSink) Dispatch(ctx context.Context, rec lead.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	s.ch <- rec
	return nil
}

type stubBridge struct {
	mu       sync.Mutex
	audio    []byte
	started  bool
	closed   bool
	sendErr  error
	segments chan transcribe.Segment
}

func newStubBridge() *stubBridge {
	return &stubBridge{segments: make(chan transcribe.Segment, 8)}
}

func (b *stubBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *stubBridge) SendAudio(buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.audio = append(b.audio, buf...)
	return nil
}

func (b *stubBridge) Segments() <-chan transcribe.Segment { return b.segments }

func (b *stubBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type testCall struct {
	conn    *websocket.Conn
	srv     *httptest.Server
	bridge  *stubBridge
	synth   *stubSynth
	sink    *stubSink
	metrics *metrics.MemoryObserver

	mu     sync.Mutex
	frames [][]byte
}

func dialSession(t *testing.T, cfg Config, synthOut []byte) *testCall {
	t.Helper()
	tc := &testCall{
		bridge:  newStubBridge(),
		synth:   &stubSynth{out: synthOut},
		sink:    newStubSink(),
		metrics: metrics.NewMemoryObserver(),
	}
	deps := Deps{
		Synth:  tc.synth,
		Dialog: stubDialog{},
		Leads:  tc.sink,
		NewBridge: func(sessionID, streamSID string) (transcribe.Bridge, error) {
			return tc.bridge, nil
		},
		Metrics: tc.metrics,
	}
	srv := NewServer(cfg, deps)
	tc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.handleStream(context.Background(), w, r)
	}))
	t.Cleanup(tc.srv.Close)

	wsURL := "ws" + strings.TrimPrefix(tc.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	tc.conn = conn
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				Event string `json:"event"`
				Media struct {
					Payload string `json:"payload"`
				} `json:"media"`
			}
			if json.Unmarshal(msg, &env) != nil || env.Event != "media" {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(env.Media.Payload)
			if err != nil {
				continue
			}
			tc.mu.Lock()
			tc.frames = append(tc.frames, frame)
			tc.mu.Unlock()
		}
	}()
	return tc
}

func (tc *testCall) send(t *testing.T, v any) {
	t.Helper()
	if err := tc.conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (tc *testCall) sendStart(t *testing.T, streamSID, caller string) {
	tc.send(t, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        streamSID,
			"callSid":          "CA1",
			"customParameters": map[string]string{"callerNumber": caller},
		},
	})
}

func (tc *testCall) sendMedia(t *testing.T, payload []byte) {
	tc.send(t, map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(payload)},
	})
}

func (tc *testCall) frameCount() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionSilentCallDispatchesFallbackLead(t *testing.T) {
	tc := dialSession(t, Config{}, nil)

	tc.sendStart(t, "SX123", "+61411111111")
	// 4 seconds of mu-law silence
	tc.sendMedia(t, bytes.Repeat([]byte{audio.MulawSilence}, 4*8000))
	tc.send(t, map[string]any{"event": "stop"})

	var rec lead.Record
	select {
	case rec = <-tc.sink.ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a lead dispatch")
	}
	if rec.CallerNumber != "+61411111111" {
		t.Fatalf("expected caller number from start event, got %q", rec.CallerNumber)
	}
	if rec.CallerName != "" || rec.Suburb != "" || rec.JobType != "" || rec.PreferredTime != "" {
		t.Fatalf("expected empty extracted fields, got %+v", rec)
	}
	if rec.Urgency != dialog.UrgencyThisWeek {
		t.Fatalf("expected mid-priority urgency, got %q", rec.Urgency)
	}
	if !strings.Contains(rec.Summary, "hung up") {
		t.Fatalf("expected hangup fallback summary, got %q", rec.Summary)
	}

	waitFor(t, "bridge teardown", func() bool {
		tc.bridge.mu.Lock()
		defer tc.bridge.mu.Unlock()
		return tc.bridge.started && tc.bridge.closed
	})
	tc.bridge.mu.Lock()
	forwarded := len(tc.bridge.audio)
	tc.bridge.mu.Unlock()
	if forwarded != 4*8000 {
		t.Fatalf("expected 32000 forwarded bytes, got %d", forwarded)
	}
	if tc.synth.callCount() != 0 {
		t.Fatalf("no reply should be synthesized on a silent call")
	}
	tc.sink.mu.Lock()
	dispatches := len(tc.sink.recs)
	tc.sink.mu.Unlock()
	if dispatches != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", dispatches)
	}

	var sawDuration, sawSegments bool
	for _, ev := range tc.metrics.Events() {
		switch ev.Name {
		case "call_duration_ms":
			sawDuration = true
		case "transcript_segments":
			sawSegments = true
			if ev.Value != 0 {
				t.Fatalf("expected zero segments on a silent call, got %v", ev.Value)
			}
		}
	}
	if !sawDuration || !sawSegments {
		t.Fatalf("expected call metrics, got %+v", tc.metrics.Events())
	}
}

func TestSessionReplyCycle(t *testing.T) {
	reply := bytes.Repeat([]byte{0x42}, 160)
	tc := dialSession(t, Config{PrimeFrames: 1}, reply)

	tc.sendStart(t, "SX9", "+61400")
	tc.sendMedia(t, bytes.Repeat([]byte{audio.MulawSilence}, 160))
	waitFor(t, "bridge start", func() bool {
		tc.bridge.mu.Lock()
		defer tc.bridge.mu.Unlock()
		return tc.bridge.started
	})

	tc.bridge.segments <- transcribe.Segment{Text: "only interim", Final: false}
	tc.bridge.segments <- transcribe.Segment{Text: "my sink is blocked", Final: true}

	// priming frame plus one reply frame arrive over the wire
	waitFor(t, "reply frames", func() bool { return tc.frameCount() >= 2 })

	tc.synth.mu.Lock()
	calls := append([]string(nil), tc.synth.calls...)
	tc.synth.mu.Unlock()
	if len(calls) != 1 || calls[0] != "reply to: my sink is blocked" {
		t.Fatalf("unexpected synth calls %v", calls)
	}

	tc.mu.Lock()
	first, second := tc.frames[0], tc.frames[1]
	tc.mu.Unlock()
	if !bytes.Equal(first, bytes.Repeat([]byte{audio.MulawSilence}, 160)) {
		t.Fatalf("expected priming silence first")
	}
	if !bytes.Equal(second, reply) {
		t.Fatalf("expected reply audio after priming")
	}
}

func TestSessionEmptySynthesisEnqueuesNothing(t *testing.T) {
	tc := dialSession(t, Config{}, nil) // synth returns empty buffers

	tc.sendStart(t, "SX2", "+61400")
	tc.sendMedia(t, bytes.Repeat([]byte{audio.MulawSilence}, 160))
	waitFor(t, "bridge start", func() bool {
		tc.bridge.mu.Lock()
		defer tc.bridge.mu.Unlock()
		return tc.bridge.started
	})
	tc.bridge.segments <- transcribe.Segment{Text: "hello", Final: true}

	waitFor(t, "synth call", func() bool { return tc.synth.callCount() == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := tc.frameCount(); got != 0 {
		t.Fatalf("expected no frames for empty synthesis, got %d", got)
	}
}

func TestSessionMalformedPayloadsIgnored(t *testing.T) {
	tc := dialSession(t, Config{}, nil)

	if err := tc.conn.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatalf("write: %v", err)
	}
	tc.sendStart(t, "SX3", "+61400")
	tc.send(t, map[string]any{"event": "unknown_thing"})
	tc.send(t, map[string]any{"event": "stop"})

	select {
	case rec := <-tc.sink.ch:
		if rec.CallerNumber != "+61400" {
			t.Fatalf("session should survive protocol noise, got %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected lead dispatch despite protocol noise")
	}
}

func TestSessionTransportDropClosesBridge(t *testing.T) {
	tc := dialSession(t, Config{}, nil)

	tc.sendStart(t, "SX4", "+61400")
	tc.sendMedia(t, bytes.Repeat([]byte{audio.MulawSilence}, 160))
	waitFor(t, "bridge start", func() bool {
		tc.bridge.mu.Lock()
		defer tc.bridge.mu.Unlock()
		return tc.bridge.started
	})

	_ = tc.conn.Close()

	waitFor(t, "bridge close on transport drop", func() bool {
		tc.bridge.mu.Lock()
		defer tc.bridge.mu.Unlock()
		return tc.bridge.closed
	})
	// no stop event means no lead dispatch
	select {
	case <-tc.sink.ch:
		t.Fatalf("transport drop must not dispatch a lead")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionContinuesWhenBridgeSendFails(t *testing.T) {
	tc := dialSession(t, Config{}, nil)
	tc.bridge.mu.Lock()
	tc.bridge.sendErr = errors.New("stream closed")
	tc.bridge.mu.Unlock()

	tc.sendStart(t, "SX6", "+61400222333")
	tc.sendMedia(t, bytes.Repeat([]byte{audio.MulawSilence}, 1600))
	tc.sendMedia(t, bytes.Repeat([]byte{audio.MulawSilence}, 1600))
	tc.send(t, map[string]any{"event": "stop"})

	select {
	case rec := <-tc.sink.ch:
		if rec.CallerNumber != "+61400222333" {
			t.Fatalf("unexpected record %+v", rec)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("transcription send failures must not stall the call")
	}
}

func TestWriteFrameFailureCarriesTransportReason(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := newSession(context.Background(), conn, Config{}, Deps{})
	defer s.teardown()

	if err := s.WriteFrame(make([]byte, 160)); err != nil {
		t.Fatalf("write on live transport: %v", err)
	}
	_ = conn.Close()
	err = s.WriteFrame(make([]byte, 160))
	if err == nil {
		t.Fatalf("expected a write failure on closed transport")
	}
	if !errorsx.HasReason(err, errorsx.ReasonTransportSend) {
		t.Fatalf("expected transport_send reason, got %q", errorsx.Reason(err))
	}
}

func TestSessionGreetingSynthesizedOnStart(t *testing.T) {
	greetingAudio := bytes.Repeat([]byte{0x11}, 160)
	tc := dialSession(t, Config{Greeting: "G'day, how can I help?", PrimeFrames: 1}, greetingAudio)

	tc.sendStart(t, "SX5", "+61400")
	waitFor(t, "greeting frames", func() bool { return tc.frameCount() >= 2 })

	tc.synth.mu.Lock()
	calls := append([]string(nil), tc.synth.calls...)
	tc.synth.mu.Unlock()
	if len(calls) != 1 || calls[0] != "G'day, how can I help?" {
		t.Fatalf("expected greeting synthesis, got %v", calls)
	}
}
