package pool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob() Job {
	return Job{ID: uuid.New(), Accepted: time.Now()}
}

func TestPool_Basic(t *testing.T) {
	var counter atomic.Int64
	p := New(4, 100, func(Job) { counter.Add(1) }, zerolog.Nop())

	for range 100 {
		require.NoError(t, p.Submit(newJob()))
	}

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int64(100), counter.Load())

	stats := p.Stats()
	assert.Equal(t, 4, stats.Workers)
	assert.Equal(t, uint64(100), stats.Submitted)
	assert.Equal(t, uint64(100), stats.Completed)
}

func TestPool_EachJobRunsOnce(t *testing.T) {
	var seen sync.Map
	var dupes atomic.Int64
	p := New(8, 1000, func(job Job) {
		if _, loaded := seen.LoadOrStore(job.ID, struct{}{}); loaded {
			dupes.Add(1)
		}
	}, zerolog.Nop())

	ids := make([]uuid.UUID, 0, 1000)
	for range 1000 {
		job := newJob()
		ids = append(ids, job.ID)
		require.NoError(t, p.Submit(job))
	}
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Zero(t, dupes.Load())
	for _, id := range ids {
		_, ok := seen.Load(id)
		assert.True(t, ok)
	}
}

func TestPool_Saturated(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := New(1, 1, func(Job) {
		started <- struct{}{}
		<-release
	}, zerolog.Nop())

	require.NoError(t, p.Submit(newJob()))
	<-started
	// worker busy, queue has room for one
	require.NoError(t, p.Submit(newJob()))
	require.ErrorIs(t, p.Submit(newJob()), ErrPoolSaturated)
	assert.Equal(t, uint64(1), p.Stats().Rejected)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, uint64(2), p.Stats().Completed)
}

func TestPool_ShutdownWaitsForInFlight(t *testing.T) {
	var finished atomic.Bool
	started := make(chan struct{})
	p := New(2, 4, func(Job) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}, zerolog.Nop())

	require.NoError(t, p.Submit(newJob()))
	<-started

	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, finished.Load())
	require.ErrorIs(t, p.Submit(newJob()), ErrPoolClosed)

	// second shutdown is a no-op
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	p := New(1, 0, func(Job) { <-release }, zerolog.Nop())

	require.Eventually(t, func() bool { return p.Submit(newJob()) == nil }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_PanicIsolation(t *testing.T) {
	var handled atomic.Int64
	p := New(1, 10, func(job Job) {
		if job.Conn != nil {
			panic("boom")
		}
		handled.Add(1)
	}, zerolog.Nop())

	server, client := net.Pipe()
	defer client.Close()

	require.NoError(t, p.Submit(Job{ID: uuid.New(), Conn: server}))
	require.NoError(t, p.Submit(newJob()))
	require.NoError(t, p.Submit(newJob()))
	require.NoError(t, p.Shutdown(context.Background()))

	// the single worker survived the panic and ran the remaining jobs
	assert.Equal(t, int64(2), handled.Load())
	assert.Equal(t, uint64(1), p.Stats().Panics)
	assert.Equal(t, uint64(3), p.Stats().Completed)

	// the panicking job's connection was closed
	_, err := client.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestPool_Defaults(t *testing.T) {
	p := New(0, -1, func(Job) {}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	assert.Equal(t, DefaultSize, p.Stats().Workers)
	assert.Equal(t, DefaultQueueSize, cap(p.jobs))
}
