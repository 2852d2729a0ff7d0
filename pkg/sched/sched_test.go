package sched_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpmeter/pkg/packet"
	"udpmeter/pkg/sched"
)

func msDelay(n uint32) sched.Delay {
	return sched.Delay{Nsec: n * 1e6}
}

// recorder collects send instants in place of a socket.
type recorder struct {
	mu    sync.Mutex
	times []time.Time
	sizes []int
}

func (r *recorder) send(size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, time.Now())
	r.sizes = append(r.sizes, size)
	return nil
}

func (r *recorder) snapshot() ([]time.Time, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...), append([]int(nil), r.sizes...)
}

func newTestScheduler(send sched.SendFunc, maxPending int) *sched.Scheduler {
	return sched.New(send, sched.Config{
		MinSize:    packet.MinSize,
		MaxSize:    1500,
		MaxPending: maxPending,
	})
}

func Test_AllEntriesTransmitted(t *testing.T) {
	var rec recorder
	s := newTestScheduler(rec.send, 0)
	require.NoError(t, s.Start())

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, s.Submit(sched.Entry{Delay: msDelay(1), Size: 64}))
	}
	s.Close()
	<-s.Done()

	_, sizes := rec.snapshot()
	assert.Len(t, sizes, n)
	assert.Equal(t, uint64(n), s.Sent())
	assert.NoError(t, s.Err())
}

func Test_PacingHoldsDeadlines(t *testing.T) {
	var rec recorder
	s := newTestScheduler(rec.send, 0)
	start := time.Now()
	require.NoError(t, s.Start())

	const n = 5
	const step = 20 * time.Millisecond
	for i := 0; i < n; i++ {
		require.NoError(t, s.Submit(sched.Entry{Delay: msDelay(20), Size: 64}))
	}
	s.Close()
	<-s.Done()

	times, _ := rec.snapshot()
	require.Len(t, times, n)
	for i, sent := range times {
		deadline := start.Add(time.Duration(i+1) * step)
		// never early; bounded overshoot
		assert.False(t, sent.Before(deadline), "packet %d sent %v before its deadline", i, deadline.Sub(sent))
		assert.Less(t, sent.Sub(deadline), 15*time.Millisecond, "packet %d late", i)
	}
}

// A slow producer must not delay entries that are already queued.
func Test_ProducerJitterDoesNotLeak(t *testing.T) {
	var rec recorder
	s := newTestScheduler(rec.send, 0)
	require.NoError(t, s.Start())

	// queue a burst up front, then dawdle before closing
	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, s.Submit(sched.Entry{Delay: msDelay(5), Size: 64}))
	}
	go func() {
		time.Sleep(200 * time.Millisecond)
		s.Close()
	}()
	<-s.Done()

	times, _ := rec.snapshot()
	require.Len(t, times, n)
	for i := 1; i < n; i++ {
		gap := times[i].Sub(times[i-1])
		assert.Less(t, gap, 20*time.Millisecond, "gap %d", i)
	}
	// the whole burst finished long before the producer got around to
	// closing
	assert.Less(t, times[n-1].Sub(times[0]), 100*time.Millisecond)
}

func Test_SubmitValidation(t *testing.T) {
	s := newTestScheduler(func(int) error { return nil }, 0)
	require.NoError(t, s.Start())
	defer s.Close()

	assert.Error(t, s.Submit(sched.Entry{Delay: sched.Delay{Nsec: 1e9}, Size: 64}))
	assert.Error(t, s.Submit(sched.Entry{Size: packet.MinSize - 1}))
	assert.Error(t, s.Submit(sched.Entry{Size: 1501}))
}

func Test_SubmitNotRunning(t *testing.T) {
	s := newTestScheduler(func(int) error { return nil }, 0)
	err := s.Submit(sched.Entry{Size: 64})
	assert.ErrorIs(t, err, sched.ErrNotRunning)

	require.NoError(t, s.Start())
	s.Close()
	<-s.Done()

	err = s.Submit(sched.Entry{Size: 64})
	assert.ErrorIs(t, err, sched.ErrNotRunning)
}

func Test_CloseIdempotentAndConcurrent(t *testing.T) {
	s := newTestScheduler(func(int) error { return nil }, 0)
	require.NoError(t, s.Start())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not terminate")
	}
}

func Test_CloseWithoutStart(t *testing.T) {
	s := newTestScheduler(func(int) error { return nil }, 0)
	s.Close()
	s.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done not signaled")
	}
}

func Test_FatalSendErrorTerminates(t *testing.T) {
	s := newTestScheduler(func(int) error { return packet.ErrSocketClosed }, 0)
	require.NoError(t, s.Start())
	require.NoError(t, s.Submit(sched.Entry{Size: 64}))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not terminate on fatal send error")
	}
	assert.ErrorIs(t, s.Err(), packet.ErrSocketClosed)
	assert.ErrorIs(t, s.Submit(sched.Entry{Size: 64}), sched.ErrNotRunning)
}

func Test_BoundedQueueBackpressure(t *testing.T) {
	block := make(chan struct{})
	var rec recorder
	s := newTestScheduler(func(size int) error {
		<-block
		return rec.send(size)
	}, 2)
	require.NoError(t, s.Start())

	// 1 entry in flight + 2 queued fills the bound
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Submit(sched.Entry{Size: 64}))
	}

	submitted := make(chan struct{})
	go func() {
		_ = s.Submit(sched.Entry{Size: 64})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit did not block on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("submit still blocked after the queue drained")
	}
	s.Close()
	<-s.Done()
}
