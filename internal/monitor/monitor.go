// Package monitor samples the agent's own process so each turn's summary can
// carry a resource snapshot.
package monitor

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const cacheTTL = 2 * time.Second

// Snapshot is one point-in-time view of the agent process.
type Snapshot struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
	AtUnixMs   int64   `json:"at_unix_ms"`
}

// Sampler caches snapshots briefly so per-turn sampling stays cheap even
// when auto-continue produces several turns back to back.
type Sampler struct {
	log *slog.Logger

	mu      sync.Mutex
	proc    *process.Process
	hasSnap bool
	snap    Snapshot
}

func NewSampler(log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{log: log}
}

// Sample returns the current process snapshot, serving a cached value when
// the last one is fresh. Sampling failures degrade to a zero snapshot; a
// missing stat must never fail a turn.
func (s *Sampler) Sample() Snapshot {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasSnap && now.UnixMilli()-s.snap.AtUnixMs < cacheTTL.Milliseconds() {
		return s.snap
	}
	snap := Snapshot{Goroutines: runtime.NumGoroutine(), AtUnixMs: now.UnixMilli()}

	if s.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			s.log.Debug("process handle unavailable", "error", err)
			s.snap, s.hasSnap = snap, true
			return snap
		}
		s.proc = p
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		snap.RSSBytes = mem.RSS
	}

	s.snap, s.hasSnap = snap, true
	return snap
}
