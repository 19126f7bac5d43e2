package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/voxlead/voxlead/pkg/errorsx"
	"github.com/voxlead/voxlead/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Segment is one transcription result. Only final, non-empty segments drive
// the reply cycle; interim hypotheses are informational and never buffered.
type Segment struct {
	Text  string
	Final bool
}

// Bridge is a per-call streaming transcription connection.
type Bridge interface {
	Start(ctx context.Context) error
	SendAudio(b []byte) error
	Segments() <-chan Segment
	Close() error
}

type Config struct {
	APIKey    string
	Model     string
	Language  string
	SessionID string
	StreamSID string
}

// DeepgramBridge maintains one live Deepgram connection for the duration of
// a call, configured for the fixed telephony profile: mu-law, 8 kHz, mono.
type DeepgramBridge struct {
	cfg Config

	dgClient   *client.WSCallback
	out        chan Segment
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	logger     *slog.Logger
}

func NewDeepgram(cfg Config) *DeepgramBridge {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &DeepgramBridge{
		cfg:    cfg,
		out:    make(chan Segment, 64),
		logger: logging.Component("deepgram_stt"),
	}
}

func (b *DeepgramBridge) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.pipeReader, b.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          b.cfg.Model,
		Language:       b.cfg.Language,
		Encoding:       "mulaw",
		SampleRate:     8000,
		InterimResults: true,
		SmartFormat:    true,
	}

	cb := &callback{parent: b}
	dgClient, err := client.NewWSUsingCallback(b.ctx, b.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		b.logger.Error("deepgram_client_create_error",
			slog.String("error", err.Error()),
			slog.String("session_id", b.cfg.SessionID))
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	b.dgClient = dgClient

	if connected := b.dgClient.Connect(); !connected {
		b.logger.Error("deepgram_connect_failed",
			slog.String("session_id", b.cfg.SessionID))
		return errorsx.Reasonf(errorsx.ReasonSTTConnect, "deepgram connection failed")
	}

	b.logger.Info("deepgram_connected",
		slog.String("session_id", b.cfg.SessionID),
		slog.String("stream_sid", b.cfg.StreamSID),
		slog.String("model", b.cfg.Model))

	go func() {
		err := b.dgClient.Stream(b.pipeReader)
		if err != nil && b.ctx.Err() == nil {
			b.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("session_id", b.cfg.SessionID))
		}
		// release the pipe so later writes fail fast instead of blocking
		// the session's read loop on a dead connection
		_ = b.pipeReader.CloseWithError(err)
	}()
	return nil
}

func (b *DeepgramBridge) Close() error {
	b.logger.Info("deepgram_closing",
		slog.String("session_id", b.cfg.SessionID))
	if b.cancel != nil {
		b.cancel()
	}
	if b.pipeWriter != nil {
		_ = b.pipeWriter.Close()
	}
	if b.dgClient != nil {
		b.dgClient.Stop()
	}
	return nil
}

// SendAudio forwards raw mu-law bytes exactly as received from the call.
func (b *DeepgramBridge) SendAudio(buf []byte) error {
	if b.pipeWriter == nil {
		return errorsx.Reasonf(errorsx.ReasonSTTSend, "bridge not started")
	}
	_, err := b.pipeWriter.Write(buf)
	if err != nil {
		b.logger.Error("deepgram_send_error",
			slog.String("error", err.Error()),
			slog.String("session_id", b.cfg.SessionID))
	}
	return errorsx.Wrap(err, errorsx.ReasonSTTSend)
}

func (b *DeepgramBridge) Segments() <-chan Segment { return b.out }

type callback struct {
	parent *DeepgramBridge
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	// the service marks finality through either field
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("transcript", transcript),
		slog.Bool("is_final", isFinal))

	select {
	case c.parent.out <- Segment{Text: transcript, Final: isFinal}:
	default:
		c.parent.logger.Warn("deepgram_out_channel_full",
			slog.String("session_id", c.parent.cfg.SessionID))
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("session_id", c.parent.cfg.SessionID))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("session_id", c.parent.cfg.SessionID),
		slog.String("data", fmt.Sprintf("%.200s", byData)))
	return nil
}

var _ Bridge = (*DeepgramBridge)(nil)
