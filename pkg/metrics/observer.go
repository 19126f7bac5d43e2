// Package metrics records per-call counters and timings. Emission must never
// block the audio path, so sinks either write locally or sit behind the
// async observer.
package metrics

import "time"

// Event is one measurement: call duration, reply latency, dispatch outcome.
type Event struct {
	Name  string
	Time  time.Time
	Value float64
	Tags  map[string]string
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// Record is a nil-tolerant helper so call sites don't guard the observer.
func Record(o Observer, name string, value float64, tags map[string]string) {
	if o == nil {
		return
	}
	o.RecordEvent(Event{Name: name, Time: time.Now(), Value: value, Tags: tags})
}
