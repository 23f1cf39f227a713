package stats

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time reading of this process's resource usage.
type Sample struct {
	MemoryMB   float64
	CPUPercent float64
}

// Sampler takes resource snapshots; implementations must be cheap enough
// to call once per page visit.
type Sampler interface {
	Sample() (Sample, error)
}

// ProcessSampler reads the current process's RSS and CPU usage.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler binds a sampler to the running process.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample returns the current RSS in MB and CPU percent.
func (s *ProcessSampler) Sample() (Sample, error) {
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("read memory info: %w", err)
	}
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu percent: %w", err)
	}
	return Sample{
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		CPUPercent: cpu,
	}, nil
}
