package errstats

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAggregatesPerBackendAndGlobal(t *testing.T) {
	l := NewLedger()
	defer l.Close()

	l.Record("origin-a", CategoryTimeout, errors.New("dial timeout"))
	l.Record("origin-a", CategoryPipe, errors.New("backend eof"))
	l.Record("origin-b", CategoryQueueDrop, errors.New("queue full"))

	a := l.BackendStatsFor("origin-a")
	require.NotNil(t, a)
	require.EqualValues(t, 2, a.ErrorCount)
	require.EqualValues(t, 1, a.ErrorTypes[string(CategoryTimeout)])
	require.EqualValues(t, 1, a.ErrorTypes[string(CategoryPipe)])

	b := l.BackendStatsFor("origin-b")
	require.NotNil(t, b)
	require.EqualValues(t, 1, b.ErrorCount)

	require.Nil(t, l.BackendStatsFor("origin-c"))

	require.EqualValues(t, 3, l.stats.TotalErrors)
	require.EqualValues(t, 2, l.stats.UniqueBackends)
	require.EqualValues(t, 1, l.stats.TimeoutErrors)
	require.EqualValues(t, 1, l.stats.PipeErrors)
	require.EqualValues(t, 1, l.stats.QueueDrops)
}

func TestBackendStatsForReturnsDefensiveCopy(t *testing.T) {
	l := NewLedger()
	defer l.Close()

	l.Record("origin-a", CategoryConnection, errors.New("refused"))
	snap := l.BackendStatsFor("origin-a")
	snap.ErrorTypes["forged"] = 99
	snap.ErrorCount = 99

	fresh := l.BackendStatsFor("origin-a")
	require.EqualValues(t, 1, fresh.ErrorCount)
	_, ok := fresh.ErrorTypes["forged"]
	require.False(t, ok)
}

func TestExportProducesValidJSON(t *testing.T) {
	l := NewLedger()
	defer l.Close()

	l.Record("origin-a", CategoryTLS, errors.New("handshake failure"))
	out, err := l.Export()
	require.NoError(t, err)
	require.Contains(t, string(out), "origin-a")
	require.Contains(t, string(out), "tls")
}

func TestReportContainsCounters(t *testing.T) {
	l := NewLedger()
	defer l.Close()

	l.Record("origin-a", CategoryTimeout, errors.New("timeout"))
	report := l.Report()
	require.Contains(t, report, "Total errors: 1")
	require.Contains(t, report, "Unique backends with errors: 1")
}

func TestRecordHandlesNilError(t *testing.T) {
	l := NewLedger()
	defer l.Close()

	require.NotPanics(t, func() {
		l.Record("origin-a", CategoryOther, nil)
	})
	require.EqualValues(t, 1, l.BackendStatsFor("origin-a").ErrorCount)
}
