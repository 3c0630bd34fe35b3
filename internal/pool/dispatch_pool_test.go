package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 16})
	defer p.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			seen[i] = true
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_FullQueueRejects(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	// Occupy the single worker, then fill the queue.
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {}))

	err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.EqualValues(t, 1, p.Stats().Rejected)
}

func TestPool_CloseWaitsForInflight(t *testing.T) {
	p := New(Config{MaxWorkers: 2, QueueSize: 4})

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		close(done)
	}))

	p.Close()
	select {
	case <-done:
	default:
		t.Fatal("Close returned before the in-flight job finished")
	}
	assert.EqualValues(t, 1, p.Stats().Completed)
}

func TestPool_PanicHandler(t *testing.T) {
	caught := make(chan any, 1)
	p := New(Config{
		MaxWorkers:   1,
		QueueSize:    1,
		PanicHandler: func(r any) { caught <- r },
	})
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		panic("job bug")
	}))

	select {
	case r := <-caught:
		assert.Equal(t, "job bug", r)
	case <-time.After(time.Second):
		t.Fatal("panic handler not invoked")
	}

	// The worker survives the panic.
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped processing after panic")
	}
}

func TestPool_DefaultsApplied(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	assert.Equal(t, DefaultConfig().MaxWorkers, p.maxWorkers)
	assert.Equal(t, DefaultConfig().QueueSize, cap(p.jobQueue))
}
