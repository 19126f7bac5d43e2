package transcribe

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/voxlead/voxlead/pkg/errorsx"
)

func TestSendAudioBeforeStart(t *testing.T) {
	b := NewDeepgram(Config{SessionID: "s1"})
	err := b.SendAudio(make([]byte, 160))
	if err == nil {
		t.Fatalf("expected an error before Start")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSTTSend) {
		t.Fatalf("expected stt_send reason, got %q", errorsx.Reason(err))
	}
}

func TestSendAudioFailsFastAfterStreamExit(t *testing.T) {
	b := NewDeepgram(Config{SessionID: "s1"})
	b.pipeReader, b.pipeWriter = io.Pipe()
	// mirror the stream goroutine exiting on a dead connection
	_ = b.pipeReader.CloseWithError(errors.New("connection reset"))

	done := make(chan error, 1)
	go func() { done <- b.SendAudio(make([]byte, 160)) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected a send error once the stream reader is gone")
		}
		if !errorsx.HasReason(err, errorsx.ReasonSTTSend) {
			t.Fatalf("expected stt_send reason, got %q", errorsx.Reason(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendAudio blocked after the stream reader was gone")
	}
}
