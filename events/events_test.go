package events

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func completed(profit int64) Event {
	return Event{
		Type:         Completed,
		InvocationID: uuid.New(),
		Fingerprint:  Fingerprint([]byte("trade")),
		Amount:       big.NewInt(1000),
		Profit:       big.NewInt(profit),
		PathLength:   2,
		Duration:     time.Millisecond,
	}
}

func aborted(kind types.Kind) Event {
	return Event{
		Type:         Aborted,
		InvocationID: uuid.New(),
		Amount:       big.NewInt(1000),
		PathLength:   2,
		Kind:         kind,
		Err:          types.NewError(kind, "test", nil),
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte{1, 2, 3}), Fingerprint([]byte{1, 2, 3}))
	assert.NotEqual(t, Fingerprint([]byte{1, 2, 3}), Fingerprint([]byte{1, 2, 4}))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.Emit(completed(39))
	sink.Emit(aborted(types.KindSlippageExceeded))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, "Arbitrage completed", entries[0].Message)
	assert.Equal(t, "39", entries[0].ContextMap()["profit"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "SlippageExceeded", entries[1].ContextMap()["kind"])
}

func TestMetricsSink(t *testing.T) {
	m := metrics.NewExecutorMetrics(prometheus.NewRegistry(), "test")
	sink := NewMetricsSink(m)

	sink.Emit(completed(39))
	sink.Emit(completed(1))
	sink.Emit(aborted(types.KindUnprofitableTrade))

	assert.Equal(t, float64(3), testutil.ToFloat64(m.Attempts))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Successes))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.ProfitTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Failures.WithLabelValues("UnprofitableTrade")))
}

func TestMultiAndRecorder(t *testing.T) {
	rec := &Recorder{}
	var seen []Type
	sink := Multi{rec, nil, SinkFunc(func(e Event) { seen = append(seen, e.Type) })}

	_, ok := rec.Last()
	assert.False(t, ok)

	sink.Emit(completed(1))
	sink.Emit(aborted(types.KindInvalidPath))

	assert.Equal(t, []Type{Completed, Aborted}, seen)
	require.Len(t, rec.Events(), 2)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidPath, last.Kind)
	assert.True(t, errors.Is(last.Err, types.ErrInvalidPath))
	assert.Equal(t, "Aborted", last.Type.String())
}
