package log

import "sync/atomic"

// Sampler emits true on a deterministic fraction of calls, avoiding a RNG
// dependency on the hot decision path. A 1-in-N counter is sufficient for the
// 1% pass-sample / 100% denial-sample split required by spec §4.6.
type Sampler struct {
	every uint64
	n     atomic.Uint64
}

// NewSampler returns a sampler that allows roughly 1/every calls through.
// every<=1 always allows.
func NewSampler(every uint64) *Sampler {
	if every == 0 {
		every = 1
	}
	return &Sampler{every: every}
}

// Allow reports whether this call should be logged.
func (s *Sampler) Allow() bool {
	if s.every <= 1 {
		return true
	}
	return s.n.Add(1)%s.every == 0
}
