package server

import (
	"math/rand"
	"strings"
	"time"
)

// Profile holds the impairment knobs of a server. Percentages are 0..100,
// delays are milliseconds.
type Profile struct {
	Loss         int `yaml:"loss"`
	Jitter       int `yaml:"jitter"`
	Delay        int `yaml:"delay"`
	Duplicate    int `yaml:"duplicate"`
	Reorder      int `yaml:"reorder"`
	ReorderDelay int `yaml:"reorder_delay"`
}

// Action tells a worker what to do with one response.
type Action struct {
	Drop      bool
	Delay     time.Duration
	Duplicate bool
}

// Policy decides the fate of every response. Decide is called by one worker
// at a time with that worker's own rng.
type Policy interface {
	Name() string
	Decide(rng *rand.Rand) Action
}

// NewPolicy returns the policy registered under name. Unknown names get the
// pass-through policy.
func NewPolicy(name string, p Profile) Policy {
	switch strings.ToLower(name) {
	case "loss":
		return loss{pct: p.Loss}
	case "jitter":
		return jitter{maxMs: p.Jitter}
	case "delay":
		return fixedDelay{ms: p.Delay}
	case "duplicate":
		return duplicate{pct: p.Duplicate}
	case "reorder":
		return reorder{pct: p.Reorder, maxMs: p.ReorderDelay}
	default:
		return passThrough{}
	}
}

type passThrough struct{}

func (passThrough) Name() string              { return "default" }
func (passThrough) Decide(*rand.Rand) Action { return Action{} }

type loss struct{ pct int }

func (loss) Name() string { return "loss" }

func (p loss) Decide(rng *rand.Rand) Action {
	return Action{Drop: rng.Intn(100) < p.pct}
}

type jitter struct{ maxMs int }

func (jitter) Name() string { return "jitter" }

func (p jitter) Decide(rng *rand.Rand) Action {
	return Action{Delay: randMillis(rng, p.maxMs)}
}

type fixedDelay struct{ ms int }

func (fixedDelay) Name() string { return "delay" }

func (p fixedDelay) Decide(*rand.Rand) Action {
	if p.ms <= 0 {
		return Action{}
	}
	return Action{Delay: time.Duration(p.ms) * time.Millisecond}
}

type duplicate struct{ pct int }

func (duplicate) Name() string { return "duplicate" }

func (p duplicate) Decide(rng *rand.Rand) Action {
	return Action{Duplicate: rng.Intn(100) < p.pct}
}

type reorder struct{ pct, maxMs int }

func (reorder) Name() string { return "reorder" }

func (p reorder) Decide(rng *rand.Rand) Action {
	if rng.Intn(100) >= p.pct {
		return Action{}
	}
	return Action{Delay: randMillis(rng, p.maxMs)}
}

// randMillis draws from [0, maxMs) milliseconds; zero when maxMs is not positive.
func randMillis(rng *rand.Rand, maxMs int) time.Duration {
	if maxMs <= 0 {
		return 0
	}
	return time.Duration(rng.Intn(maxMs)) * time.Millisecond
}
