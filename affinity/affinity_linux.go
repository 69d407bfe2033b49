//go:build linux

package affinity

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"golang.org/x/sys/unix"
)

type linuxProvider struct{}

// System returns the provider backed by the host scheduler.
func System() Provider {
	return linuxProvider{}
}

// Cores lists the logical cores this process may run on.
func (linuxProvider) Cores() ([]CoreID, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return nil, errors.Wrap(err, "count logical cpus")
	}

	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		allowed.Zero()
		for i := 0; i < n; i++ {
			allowed.Set(i)
		}
	}

	cores := make([]CoreID, 0, n)
	for i := 0; i < n; i++ {
		if allowed.IsSet(i) {
			cores = append(cores, CoreID(i))
		}
	}
	return cores, nil
}

func (linuxProvider) Pin(id CoreID) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(int(id))
	return errors.Wrapf(unix.SchedSetaffinity(0, &set), "pin thread to core %d", id)
}
