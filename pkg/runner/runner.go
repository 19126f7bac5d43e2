package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

// Service is a long-running component with explicit start/stop, such as the
// telephony server.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

const Version = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"VOXLEAD\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

// Runner drives one Service through its lifecycle: start, block until the
// context is cancelled, then stop with a drain deadline.
type Runner struct {
	state    int32
	svc      Service
	hooks    Hooks
	timeout  time.Duration
	onceStop sync.Once
	stopErr  error
}

func New(svc Service, hooks Hooks, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{
		state:   int32(StateNew),
		svc:     svc,
		hooks:   hooks,
		timeout: timeout,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	if err := r.svc.Start(ctx); err != nil {
		r.setState(StateStopped)
		return err
	}
	r.setState(StateRunning)
	<-ctx.Done()
	return r.stop()
}

func (r *Runner) Stop() error {
	return r.stop()
}

func (r *Runner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *Runner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		done := make(chan struct{})
		go func() {
			r.stopErr = r.svc.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(r.timeout):
			r.stopErr = errors.New("drain timeout")
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *Runner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *Runner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
