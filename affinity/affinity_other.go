//go:build !linux

package affinity

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
)

// countOnly enumerates cores but cannot pin; the platform has no portable
// thread affinity call.
type countOnly struct{}

// System returns the provider backed by the host.
func System() Provider {
	return countOnly{}
}

func (countOnly) Cores() ([]CoreID, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return nil, errors.Wrap(err, "count logical cpus")
	}
	return Noop(n).Cores()
}

func (countOnly) Pin(CoreID) error { return nil }
