// Package monitor reports runtime memory and scheduler statistics for
// the debug surface.
package monitor

import (
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

// MemoryStats is one snapshot of the Go runtime, with humanized sizes for
// direct display.
type MemoryStats struct {
	Timestamp      int64  `json:"timestamp"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapAllocHuman string `json:"heap_alloc_human"`
	HeapSys        uint64 `json:"heap_sys"`
	HeapSysHuman   string `json:"heap_sys_human"`
	Sys            uint64 `json:"sys"`
	SysHuman       string `json:"sys_human"`
	TotalAlloc     uint64 `json:"total_alloc"`
	NumGC          uint32 `json:"num_gc"`
	LastGCPause    uint64 `json:"last_gc_pause_ns"`
	NumGoroutine   int    `json:"num_goroutine"`
}

// Snapshot reads the current runtime statistics.
func Snapshot() *MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &MemoryStats{
		Timestamp:      time.Now().UnixMilli(),
		HeapAlloc:      ms.HeapAlloc,
		HeapAllocHuman: humanize.IBytes(ms.HeapAlloc),
		HeapSys:        ms.HeapSys,
		HeapSysHuman:   humanize.IBytes(ms.HeapSys),
		Sys:            ms.Sys,
		SysHuman:       humanize.IBytes(ms.Sys),
		TotalAlloc:     ms.TotalAlloc,
		NumGC:          ms.NumGC,
		LastGCPause:    ms.PauseNs[(ms.NumGC+255)%256],
		NumGoroutine:   runtime.NumGoroutine(),
	}
}
