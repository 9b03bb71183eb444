package events

import (
	"math/big"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"go.uber.org/zap"
)

// Type is the outcome of an invocation
type Type int

const (
	Completed Type = iota
	Aborted
)

func (t Type) String() string {
	if t == Completed {
		return "Completed"
	}
	return "Aborted"
}

// Event describes one finished invocation. Profit is set on Completed,
// Kind and Err on Aborted.
type Event struct {
	Type         Type
	InvocationID uuid.UUID
	Fingerprint  uint64
	Caller       common.Address
	Token        common.Address
	Amount       *big.Int
	Profit       *big.Int
	PathLength   int
	Kind         types.Kind
	Err          error
	Duration     time.Duration
	Time         time.Time
}

// Fingerprint hashes an encoded trade so repeated trades can be correlated
func Fingerprint(encoded []byte) uint64 {
	return xxhash.Sum64(encoded)
}

// Sink receives invocation events
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Multi fans an event out to every sink in order
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(e Event) {
	fields := []zap.Field{
		zap.Stringer("invocation", e.InvocationID),
		zap.Uint64("fingerprint", e.Fingerprint),
		zap.String("token", e.Token.Hex()),
		zap.String("amount", amountString(e.Amount)),
		zap.Int("legs", e.PathLength),
		zap.Duration("duration", e.Duration),
	}

	if e.Type == Completed {
		s.logger.Info("Arbitrage completed", append(fields, zap.String("profit", amountString(e.Profit)))...)
		return
	}
	s.logger.Warn("Arbitrage aborted", append(fields, zap.Stringer("kind", e.Kind), zap.Error(e.Err))...)
}

// MetricsSink records events in prometheus
type MetricsSink struct {
	metrics *metrics.ExecutorMetrics
}

func NewMetricsSink(m *metrics.ExecutorMetrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Emit(e Event) {
	s.metrics.Attempts.Inc()
	s.metrics.ExecutionTime.Observe(e.Duration.Seconds())
	if e.PathLength > 0 {
		s.metrics.PathLength.Observe(float64(e.PathLength))
	}

	if e.Type == Aborted {
		s.metrics.Failures.WithLabelValues(e.Kind.String()).Inc()
		return
	}
	s.metrics.Successes.Inc()
	if e.Profit != nil && e.Profit.Sign() > 0 {
		profit, _ := new(big.Float).SetInt(e.Profit).Float64()
		s.metrics.ProfitTotal.Add(profit)
	}
}

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Last returns the most recent event
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}

func amountString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
