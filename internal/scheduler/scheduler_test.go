package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEvictor struct {
	calls   atomic.Int32
	evicted []string
	err     error
}

func (f *fakeEvictor) EvictIdle(context.Context) ([]string, error) {
	f.calls.Add(1)
	return f.evicted, f.err
}

func TestAddJobValidatesSpec(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	require.NoError(t, s.AddJob("every-minute", "* * * * *", func(context.Context) error { return nil }))
	require.NoError(t, s.AddJob("sweep", DefaultEvictionSchedule, func(context.Context) error { return nil }))
	assert.Error(t, s.AddJob("broken", "every tuesday", func(context.Context) error { return nil }))
	assert.Equal(t, 2, s.Len())
}

func TestValidateSpec(t *testing.T) {
	assert.NoError(t, ValidateSpec("@every 30s"))
	assert.NoError(t, ValidateSpec("0 9 * * 1-5"))
	assert.Error(t, ValidateSpec("0 9 * *"))
	assert.Error(t, ValidateSpec("@sometimes"))
}

func TestEvictionJobRunsOnSchedule(t *testing.T) {
	ev := &fakeEvictor{evicted: []string{"c-1"}}
	s := NewScheduler(WithJobTimeout(time.Second))
	require.NoError(t, s.AddJob("evict", "@every 1s", EvictionJob(ev)))
	s.Start()
	assert.Eventually(t, func() bool { return ev.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestEvictionJobReportsError(t *testing.T) {
	ev := &fakeEvictor{err: errors.New("store down")}
	err := EvictionJob(ev)(context.Background())
	assert.EqualError(t, err, "store down")
	assert.Equal(t, int32(1), ev.calls.Load())
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	s := NewScheduler()
	require.NoError(t, s.AddJob("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	assert.True(t, cancelled.Load())
}
