package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armctl/pkg/types"
)

func TestReporterPublishesAtInterval(t *testing.T) {
	var mu sync.Mutex
	var got []types.StatusReport

	source := func() types.StatusReport {
		return types.StatusReport{Timestamp: time.Now(), State: "idle"}
	}
	sink := func(report types.StatusReport) error {
		mu.Lock()
		got = append(got, report)
		mu.Unlock()
		return nil
	}

	r := NewReporter(10*time.Millisecond, 4, source, sink)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "idle", got[0].State)
}

func TestReporterDropsOldestUnderBackpressure(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var published []string

	seq := 0
	source := func() types.StatusReport {
		seq++
		return types.StatusReport{State: "idle", Mission: &types.MissionBrief{ID: string(rune('a' + seq%26))}}
	}
	sink := func(report types.StatusReport) error {
		<-release
		mu.Lock()
		published = append(published, report.Mission.ID)
		mu.Unlock()
		return nil
	}

	r := NewReporter(time.Millisecond, 2, source, sink)
	require.NoError(t, r.Start(context.Background()))

	// Let the queue overflow while the sink is blocked, then drain.
	require.Eventually(t, func() bool { return r.Dropped() > 0 },
		time.Second, time.Millisecond)
	close(release)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Stop())

	assert.Greater(t, r.Dropped(), uint64(0))
	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, published)
}

func TestReporterDoubleStartRejected(t *testing.T) {
	r := NewReporter(time.Second, 1,
		func() types.StatusReport { return types.StatusReport{} },
		func(types.StatusReport) error { return nil })

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
	assert.Error(t, r.Stop())
}
