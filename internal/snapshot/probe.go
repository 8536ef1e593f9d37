package snapshot

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// probe abstracts the OS measurement source so tests can substitute
// deterministic readings.
type probe interface {
	MemoryUsage() (used, total uint64, err error)
	CPUUsage() (ratio float64, err error)
}

type systemProbe struct{}

func (systemProbe) MemoryUsage() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	return vm.Used, vm.Total, nil
}

// CPUUsage reports usage since the previous call, as a ratio of total capacity.
// The first call after process start reports zero.
func (systemProbe) CPUUsage() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}

	return percents[0] / 100, nil
}
