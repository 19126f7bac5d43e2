package pacing

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlead/voxlead/pkg/audio"
)

const (
	// FrameSize is the atomic outbound unit: 20 ms of 8 kHz mu-law audio.
	FrameSize = 160
	// FrameInterval is the real-time pacing gap between outbound frames.
	// The peer buffers short-term jitter, but sustained faster-than-real-time
	// delivery overflows its buffer and corrupts playback.
	FrameInterval = 20 * time.Millisecond

	defaultPrimeFrames = 3
	queueCapacity      = 4096
)

// Sink receives exactly one 160-byte frame per call. An error return tells
// the scheduler the connection is gone and the pacing loop exits silently.
type Sink interface {
	WriteFrame(frame []byte) error
}

type Config struct {
	// PrimeFrames is the number of pure-silence frames injected ahead of the
	// first real audio of a session, priming the peer's jitter buffer so the
	// stream does not open with an audible artifact.
	PrimeFrames int
}

// Scheduler paces arbitrary-length mu-law buffers into fixed-size frames at
// fixed intervals. One scheduler per call session; the run loop is the only
// goroutine that touches the sink, so frames go out in strict FIFO order.
type Scheduler struct {
	sink   Sink
	prime  int
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ch chan []byte

	mu     sync.Mutex
	primed bool
}

func NewScheduler(ctx context.Context, sink Sink, cfg Config) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	prime := cfg.PrimeFrames
	if prime <= 0 {
		prime = defaultPrimeFrames
	}
	cctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		sink:   sink,
		prime:  prime,
		logger: slog.Default().With(slog.String("component", "pacing")),
		ctx:    cctx,
		cancel: cancel,
		ch:     make(chan []byte, queueCapacity),
	}
	go s.run()
	return s
}

// Enqueue pads buf to a frame multiple with the silence byte, splits it into
// frames and queues them. The first enqueue of a session injects the priming
// silence burst ahead of the real audio. Empty buffers are ignored.
func (s *Scheduler) Enqueue(buf []byte) {
	if len(buf) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.primed {
		s.primed = true
		silence := bytes.Repeat([]byte{audio.MulawSilence}, FrameSize)
		for i := 0; i < s.prime; i++ {
			s.push(silence)
		}
	}
	for _, frame := range SplitFrames(PadToFrames(buf)) {
		s.push(frame)
	}
}

// Clear discards all queued frames and resets priming, used when a call ends
// or queued audio should be interrupted.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case <-s.ch:
		default:
			s.primed = false
			return
		}
	}
}

// Stop terminates the pacing loop. Queued frames are dropped.
func (s *Scheduler) Stop() {
	s.cancel()
}

func (s *Scheduler) push(frame []byte) {
	select {
	case s.ch <- frame:
	default:
		s.logger.Warn("pacing_queue_full", slog.Int("dropped_bytes", len(frame)))
	}
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.ch:
			if err := s.sink.WriteFrame(frame); err != nil {
				// connection gone; stop rescheduling
				return
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(FrameInterval):
			}
		}
	}
}

// PadToFrames pads b with the silence byte up to a multiple of FrameSize.
// Trailing audio is never truncated.
func PadToFrames(b []byte) []byte {
	rem := len(b) % FrameSize
	if rem == 0 {
		return b
	}
	padded := make([]byte, len(b)+FrameSize-rem)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = audio.MulawSilence
	}
	return padded
}

// SplitFrames slices a frame-aligned buffer into FrameSize chunks.
func SplitFrames(b []byte) [][]byte {
	frames := make([][]byte, 0, len(b)/FrameSize)
	for off := 0; off+FrameSize <= len(b); off += FrameSize {
		frames = append(frames, b[off:off+FrameSize])
	}
	return frames
}
