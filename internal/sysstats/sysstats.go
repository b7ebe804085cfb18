// Package sysstats samples host and process resource usage. Values that the
// platform cannot report are left at zero.
package sysstats

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Stats is one resource sample.
type Stats struct {
	Hostname string        `json:"hostname"`
	OS       string        `json:"os"`
	Arch     string        `json:"arch"`
	Uptime   time.Duration `json:"uptime"`

	CPUModel   string  `json:"cpu_model,omitempty"`
	CPUCores   int     `json:"cpu_cores"`
	CPUPercent float64 `json:"cpu_percent"`

	LoadAvg1m  float64 `json:"load_avg_1m"`
	LoadAvg5m  float64 `json:"load_avg_5m"`
	LoadAvg15m float64 `json:"load_avg_15m"`

	MemoryTotal     uint64  `json:"memory_total"`
	MemoryUsed      uint64  `json:"memory_used"`
	MemoryAvailable uint64  `json:"memory_available"`
	MemoryPercent   float64 `json:"memory_percent"`

	// Process covers this process and its children (ffmpeg encoders and decoders).
	ProcessRSS uint64  `json:"process_rss"`
	ProcessCPU float64 `json:"process_cpu_percent"`
	ChildCount int     `json:"child_count"`
	ChildRSS   uint64  `json:"child_rss"`
	Goroutines int     `json:"goroutines"`
}

// Collector samples Stats. CPU percentages are measured between calls.
type Collector struct {
	hostname string

	once     sync.Once
	cpuModel string
	proc     *process.Process
}

// NewCollector creates a collector for the current process.
func NewCollector() *Collector {
	hostname, _ := os.Hostname()
	return &Collector{hostname: hostname}
}

func (c *Collector) init(ctx context.Context) {
	c.once.Do(func() {
		if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
			c.cpuModel = infos[0].ModelName
		}
		if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
			c.proc = p
		}
	})
}

// Collect gathers a sample. It never fails; unavailable values stay zero.
func (c *Collector) Collect(ctx context.Context) Stats {
	c.init(ctx)

	s := Stats{
		Hostname:   c.hostname,
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPUModel:   c.cpuModel,
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		s.Uptime = time.Duration(uptime) * time.Second
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		s.CPUCores = n
	}
	// Interval 0 compares against the previous call.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.LoadAvg1m = avg.Load1
		s.LoadAvg5m = avg.Load5
		s.LoadAvg15m = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryAvailable = vm.Available
		s.MemoryPercent = vm.UsedPercent
	}

	c.collectProcess(ctx, &s)
	return s
}

func (c *Collector) collectProcess(ctx context.Context, s *Stats) {
	if c.proc == nil {
		return
	}
	if mi, err := c.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		s.ProcessRSS = mi.RSS
	}
	if pct, err := c.proc.PercentWithContext(ctx, 0); err == nil {
		s.ProcessCPU = pct
	}

	children, err := c.proc.ChildrenWithContext(ctx)
	if err != nil {
		return
	}
	s.ChildCount = len(children)
	for _, child := range children {
		if mi, err := child.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			s.ChildRSS += mi.RSS
		}
	}
}

// LoadPercent returns the one minute load as a percentage of the cores.
func (s Stats) LoadPercent() float64 {
	if s.CPUCores == 0 {
		return 0
	}
	return s.LoadAvg1m / float64(s.CPUCores) * 100
}
