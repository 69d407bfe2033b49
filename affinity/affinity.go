// Package affinity enumerates CPU cores and pins worker threads to them.
package affinity

import (
	"runtime"

	"github.com/pkg/errors"
)

// ErrNoCores means the provider reported no usable cores.
var ErrNoCores = errors.New("no cpu cores available")

// CoreID is an opaque core identifier.
type CoreID int

// Provider lists cores and pins the calling OS thread to one of them.
type Provider interface {
	Cores() ([]CoreID, error)
	Pin(id CoreID) error
}

// Take returns at most n cores from p, in the provider's order.
func Take(p Provider, n int) ([]CoreID, error) {
	cores, err := p.Cores()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate cores")
	}
	if len(cores) == 0 {
		return nil, ErrNoCores
	}
	if n < len(cores) {
		cores = cores[:n]
	}
	return cores, nil
}

// PinCurrent locks the calling goroutine to its OS thread and pins that thread
// to id. The lock is never released: when the goroutine returns, the runtime
// retires the thread together with its affinity mask.
func PinCurrent(p Provider, id CoreID) error {
	runtime.LockOSThread()
	return p.Pin(id)
}

type noop struct {
	n int
}

// Noop reports n cores and ignores Pin.
func Noop(n int) Provider {
	return noop{n: n}
}

func (p noop) Cores() ([]CoreID, error) {
	cores := make([]CoreID, p.n)
	for i := range cores {
		cores[i] = CoreID(i)
	}
	return cores, nil
}

func (noop) Pin(CoreID) error { return nil }
