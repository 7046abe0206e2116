// Package performance measures benchmark phases: wall time, throughput and
// the process's resource usage before and after each phase.
package performance

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/strata/pkg/metrics"
)

// ResourceMonitor samples the resource usage of the current process.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

// NewResourceMonitor creates a resource monitor for this process.
func NewResourceMonitor() (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: pids fit in int32
	if err != nil {
		return nil, fmt.Errorf("failed to inspect process: %w", err)
	}
	rm := &ResourceMonitor{process: proc, startTime: time.Now()}
	if cpuTime, err := proc.Times(); err == nil {
		rm.startCPUTime = cpuTime.Total()
	}
	return rm, nil
}

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	// CPUPercent is process CPU time over wall time since the monitor was
	// created, so it can exceed 100 on several cores.
	CPUPercent            float64
	SystemCPUPercent      float64
	MemoryRSS             uint64
	MemoryVMS             uint64
	SystemMemoryPercent   float64
	SystemMemoryAvailable uint64
	GoroutineCount        int
	ThreadCount           int32
	OpenFDs               int32
	HeapAlloc             uint64
	GCCount               uint32
}

// Usage returns current resource usage. Fields the platform cannot report
// are left zero.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	var usage ResourceUsage

	if cpuTime, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = (cpuTime.Total() - rm.startCPUTime) / elapsed * 100
		}
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		usage.SystemCPUPercent = pct[0]
	}
	if memInfo, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = memInfo.RSS
		usage.MemoryVMS = memInfo.VMS
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vmStat.UsedPercent
		usage.SystemMemoryAvailable = vmStat.Available
	}
	usage.ThreadCount, _ = rm.process.NumThreads()
	usage.OpenFDs, _ = rm.process.NumFDs()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.HeapAlloc = ms.HeapAlloc
	usage.GCCount = ms.NumGC
	usage.GoroutineCount = runtime.NumGoroutine()
	return usage
}

// Phase is one measured step of a benchmark.
type Phase struct {
	Name     string
	Duration time.Duration
	Rows     int64
	Bytes    int64
	Before   ResourceUsage
	After    ResourceUsage
	Err      error
}

// RowsPerSecond returns the phase's row throughput.
func (p Phase) RowsPerSecond() float64 {
	if p.Duration <= 0 {
		return 0
	}
	return float64(p.Rows) / p.Duration.Seconds()
}

// MBPerSecond returns the phase's byte throughput in MiB/s.
func (p Phase) MBPerSecond() float64 {
	if p.Duration <= 0 {
		return 0
	}
	return float64(p.Bytes) / (1 << 20) / p.Duration.Seconds()
}

// Profiler records a sequence of phases.
type Profiler struct {
	name    string
	monitor *ResourceMonitor
	mu      sync.Mutex
	phases  []Phase
}

// NewProfiler creates a profiler. If the process cannot be inspected the
// profiler still measures time and throughput.
func NewProfiler(name string) *Profiler {
	monitor, _ := NewResourceMonitor()
	return &Profiler{name: name, monitor: monitor}
}

func (p *Profiler) usage() ResourceUsage {
	if p.monitor == nil {
		return ResourceUsage{}
	}
	return p.monitor.Usage()
}

// Measure runs fn as a named phase. fn reports how many rows and bytes it
// processed. The phase is recorded even if fn fails.
func (p *Profiler) Measure(name string, fn func() (rows, bytes int64, err error)) (Phase, error) {
	phase := Phase{Name: name, Before: p.usage()}
	start := time.Now()
	rows, bytes, err := fn()
	phase.Duration = time.Since(start)
	phase.Rows, phase.Bytes, phase.Err = rows, bytes, err
	phase.After = p.usage()

	if phase.After.MemoryRSS > 0 {
		metrics.MemoryAllocated.WithLabelValues(name).Set(float64(phase.After.MemoryRSS))
	}
	if rows > 0 {
		metrics.Throughput.WithLabelValues(p.name, name).Set(phase.RowsPerSecond())
	}

	p.mu.Lock()
	p.phases = append(p.phases, phase)
	p.mu.Unlock()
	return phase, err
}

// Phases returns the recorded phases in order.
func (p *Profiler) Phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Phase(nil), p.phases...)
}

// WriteReport writes a table of the recorded phases.
func (p *Profiler) WriteReport(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "phase\ttime\trows/s\tMiB/s\tRSS MiB\tGCs\t\n")
	for _, ph := range p.Phases() {
		status := ""
		if ph.Err != nil {
			status = " (failed)"
		}
		fmt.Fprintf(tw, "%s%s\t%v\t%.0f\t%.1f\t%d\t%d\t\n",
			ph.Name, status,
			ph.Duration.Round(time.Microsecond),
			ph.RowsPerSecond(),
			ph.MBPerSecond(),
			ph.After.MemoryRSS>>20,
			ph.After.GCCount-ph.Before.GCCount)
	}
	return tw.Flush()
}
