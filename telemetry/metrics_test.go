package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// resetForTest bypasses initOnce so each test gets a fresh *Metrics
// without fighting sync.Once's single-fire semantics.
func resetForTest(t *testing.T, cfg Config) {
	t.Helper()
	global = nil
	require.NoError(t, doInit(context.Background(), cfg))
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
	})
}

func TestInitNoopFallback(t *testing.T) {
	resetForTest(t, Config{})
	require.NotNil(t, global)

	RecordHit(context.Background(), true)
	RecordMiss(context.Background())
	RecordSet(context.Background())
	RecordDelete(context.Background())
	RecordEviction(context.Background(), 2)
	RecordExpired(context.Background(), 1)
	RecordCorruptRead(context.Background())
	RecordVacuumRun(context.Background(), 0)
	SetGauges(context.Background(), 100, 5, 10)
}

func TestRecordingsAreNoOpsBeforeInit(t *testing.T) {
	global = nil
	require.Nil(t, global)
	// Must not panic when uninitialized.
	RecordHit(context.Background(), false)
	RecordMiss(context.Background())
	SetGauges(context.Background(), 0, 0, 0)
}

func TestPrometheusHandlerEnabled(t *testing.T) {
	resetForTest(t, Config{EnablePrometheus: true})
	require.NotNil(t, PrometheusHandler())
}

func TestPrometheusHandlerDisabledByDefault(t *testing.T) {
	resetForTest(t, Config{})
	require.Nil(t, PrometheusHandler())
}
