package pipeline

import (
	"runtime"
)

// MemStats summarizes memory usage information.
type MemStats struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		AllocBytes: m.Alloc,
		SysBytes:   m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// Stats is a point-in-time summary of the controller.
type Stats struct {
	State       State    `json:"state"`
	Busy        bool     `json:"busy"`
	Completed   uint64   `json:"completed"`
	Failed      uint64   `json:"failed"`
	Rejected    uint64   `json:"rejected"`
	HistoryLen  int      `json:"history_len"`
	Subscribers int      `json:"subscribers"`
	Memory      MemStats `json:"memory"`
}

// Stats returns run counters and memory figures.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	state, busy := c.state, c.active != nil
	c.mu.Unlock()

	return Stats{
		State:       state,
		Busy:        busy,
		Completed:   c.completed.Load(),
		Failed:      c.failed.Load(),
		Rejected:    c.rejected.Load(),
		HistoryLen:  c.history.Len(),
		Subscribers: c.bus.subscribers(),
		Memory:      GetMemStats(),
	}
}
