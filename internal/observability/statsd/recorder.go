package statsd

import (
	"sync"
	"time"
)

// Sample is one recorded metric.
type Sample struct {
	Kind  string // c, g or ms
	Name  string
	Value float64
	Tags  map[string]string
}

// Recorder is an in-memory Sink, used by tests and by the /healthz counters.
type Recorder struct {
	mu      sync.Mutex
	samples []Sample
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(Sample{Kind: "c", Name: name, Value: float64(value), Tags: cloneTags(tags)})
}

func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(Sample{Kind: "g", Name: name, Value: value, Tags: cloneTags(tags)})
}

func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(Sample{Kind: "ms", Name: name, Value: float64(value) / float64(time.Millisecond), Tags: cloneTags(tags)})
}

func (r *Recorder) add(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

// Samples returns a copy of everything recorded so far.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Total sums every counter named name whose tags include match.
func (r *Recorder) Total(name string, match map[string]string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, s := range r.samples {
		if s.Kind != "c" || s.Name != name || !hasTags(s.Tags, match) {
			continue
		}
		total += int64(s.Value)
	}
	return total
}

func hasTags(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Tee fans every metric out to each non-nil sink.
type Tee []Sink

var _ Sink = Tee(nil)

func (t Tee) Count(name string, value int64, tags map[string]string) {
	for _, s := range t {
		if s != nil {
			s.Count(name, value, tags)
		}
	}
}

func (t Tee) Gauge(name string, value float64, tags map[string]string) {
	for _, s := range t {
		if s != nil {
			s.Gauge(name, value, tags)
		}
	}
}

func (t Tee) Timing(name string, value time.Duration, tags map[string]string) {
	for _, s := range t {
		if s != nil {
			s.Timing(name, value, tags)
		}
	}
}
