package workers

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Gauges exposes the in-memory sizes worth watching.
type Gauges interface {
	ConnectionCount() int
	RoomCount() int
}

type Snapshot struct {
	At          time.Time `json:"at"`
	CPUPercent  float64   `json:"cpu_percent"`
	RAMPercent  float32   `json:"ram_percent"`
	RSSBytes    uint64    `json:"rss_bytes"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Buckets     int       `json:"rate_limit_buckets"`
	Locks       int       `json:"locks"`
}

// TelemetryWorker samples the process and the registries on every tick.
type TelemetryWorker struct {
	mu       sync.RWMutex
	log      *slog.Logger
	gauges   Gauges
	buckets  func() int
	locks    func() int
	interval time.Duration
	latest   Snapshot
}

func NewTelemetryWorker(log *slog.Logger, gauges Gauges, buckets, locks func() int, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, gauges: gauges, buckets: buckets, locks: locks, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snapshot := w.sample(p)
			w.mu.Lock()
			w.latest = snapshot
			w.mu.Unlock()
			w.log.Debug("Telemetry",
				"cpu", snapshot.CPUPercent,
				"ram", snapshot.RAMPercent,
				"rss", snapshot.RSSBytes,
				"connections", snapshot.Connections,
				"rooms", snapshot.Rooms,
				"buckets", snapshot.Buckets,
				"locks", snapshot.Locks)
		}
	}
}

// Latest is the last sample, zero before the first tick.
func (w *TelemetryWorker) Latest() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest
}

func (w *TelemetryWorker) sample(p *process.Process) Snapshot {
	snapshot := Snapshot{
		At:          time.Now().UTC(),
		Connections: w.gauges.ConnectionCount(),
		Rooms:       w.gauges.RoomCount(),
	}
	if w.buckets != nil {
		snapshot.Buckets = w.buckets()
	}
	if w.locks != nil {
		snapshot.Locks = w.locks()
	}
	if cpu, err := p.CPUPercent(); err == nil {
		snapshot.CPUPercent = cpu
	} else {
		w.log.Debug("Unable to read cpu usage", "error", err)
	}
	if ram, err := p.MemoryPercent(); err == nil {
		snapshot.RAMPercent = ram
	}
	if mem, err := p.MemoryInfo(); err == nil {
		snapshot.RSSBytes = mem.RSS
	}
	return snapshot
}
