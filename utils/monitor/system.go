package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Stats is one sample of process health
type Stats struct {
	Goroutines  int
	HeapObjects uint64
	HeapAlloc   uint64
	GCPause     time.Duration // most recent pause
	NumGC       uint32
}

// SystemMonitor samples runtime stats into gauges while metrics are served
type SystemMonitor struct {
	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics struct {
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
	}
}

// NewSystemMonitor registers the gauges with reg and samples every interval
// until ctx is done or Cleanup is called
func NewSystemMonitor(ctx context.Context, reg prometheus.Registerer, interval time.Duration, logger *zap.Logger) *SystemMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}

	factory := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.DefaultNamespace,
			Subsystem: "process",
			Name:      name,
			Help:      help,
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &SystemMonitor{logger: logger, cancel: cancel}
	m.metrics.goroutines = gauge("goroutines", "Current number of goroutines")
	m.metrics.heapObjects = gauge("heap_objects", "Current number of heap objects")
	m.metrics.heapAlloc = gauge("heap_alloc_bytes", "Current heap allocation in bytes")
	m.metrics.gcPause = gauge("gc_pause_seconds", "Most recent GC pause")

	m.collect()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, interval)
	}()

	return m
}

func (m *SystemMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.collect()
			m.logger.Debug("Sampled process stats",
				zap.Int("goroutines", s.Goroutines),
				zap.Uint64("heap_alloc", s.HeapAlloc))
		}
	}
}

func (m *SystemMonitor) collect() Stats {
	s := Sample()
	m.metrics.goroutines.Set(float64(s.Goroutines))
	m.metrics.heapObjects.Set(float64(s.HeapObjects))
	m.metrics.heapAlloc.Set(float64(s.HeapAlloc))
	m.metrics.gcPause.Set(s.GCPause.Seconds())
	return s
}

// Sample reads the current runtime stats
func Sample() Stats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Stats{
		Goroutines:  runtime.NumGoroutine(),
		HeapObjects: memStats.HeapObjects,
		HeapAlloc:   memStats.HeapAlloc,
		GCPause:     time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		NumGC:       memStats.NumGC,
	}
}

// Cleanup stops sampling and waits for the sampler to exit
func (m *SystemMonitor) Cleanup() {
	m.cancel()
	m.wg.Wait()
}
