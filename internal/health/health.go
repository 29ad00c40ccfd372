// Package health builds a point-in-time health snapshot of the process, the
// agent pool and the action store.
package health

import (
	"os"
	"runtime"
	"time"
)

// Snapshot is the /healthz payload.
type Snapshot struct {
	Status     string      `json:"status"`
	Goroutines int         `json:"goroutines"`
	Memory     MemoryInfo  `json:"memory"`
	Runtime    RuntimeInfo `json:"runtime"`
	Agents     *AgentInfo  `json:"agents,omitempty"`
	Store      *StoreInfo  `json:"store,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

type MemoryInfo struct {
	AllocMB      float64 `json:"allocMB"`
	TotalAllocMB float64 `json:"totalAllocMB"`
	SysMB        float64 `json:"sysMB"`
	NumGC        uint32  `json:"numGC"`
}

type RuntimeInfo struct {
	Version string `json:"version"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	CPUs    int    `json:"cpus"`
}

// AgentInfo summarizes the supervisor pool.
type AgentInfo struct {
	Tracked           int   `json:"tracked"`
	Running           int   `json:"running"`
	StateReadFailures int64 `json:"stateReadFailures"`
}

// StoreInfo describes the SQLite file.
type StoreInfo struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Options selects the optional sections.
type Options struct {
	Agents    *AgentInfo
	StorePath string
}

// Collect returns a health snapshot for the current process. Status is
// "degraded" once any event-state read has failed.
func Collect(opts Options) Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		Status:     "healthy",
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryInfo{
			AllocMB:      float64(mem.Alloc) / 1024 / 1024,
			TotalAllocMB: float64(mem.TotalAlloc) / 1024 / 1024,
			SysMB:        float64(mem.Sys) / 1024 / 1024,
			NumGC:        mem.NumGC,
		},
		Runtime: RuntimeInfo{
			Version: runtime.Version(),
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			CPUs:    runtime.NumCPU(),
		},
		Agents:    opts.Agents,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if opts.Agents != nil && opts.Agents.StateReadFailures > 0 {
		s.Status = "degraded"
	}
	if opts.StorePath != "" {
		s.Store = inspectStore(opts.StorePath)
	}
	return s
}

func inspectStore(path string) *StoreInfo {
	info := &StoreInfo{Path: path}
	if path == ":memory:" {
		info.Exists = true
		return info
	}
	stat, err := os.Stat(path)
	if err != nil {
		return info
	}
	info.Exists = true
	info.SizeBytes = stat.Size()
	info.UpdatedAt = stat.ModTime().Format(time.RFC3339)
	return info
}
