// Package sched turns a logical sequence of "wait this long, then send
// this many bytes" entries into transmissions at precise instants. A
// producer submits entries at whatever pace it manages; a dedicated
// timing loop owns the deadlines, so producer jitter never becomes
// send-time jitter for entries already queued.
package sched

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddirect/container/fifo"
	"github.com/gologme/log"

	"udpmeter/pkg/packet"
)

// Delay is the wait before the next transmission, relative to the
// previous one.
type Delay struct {
	Sec  uint64
	Nsec uint32
}

func (d Delay) Duration() time.Duration {
	return time.Duration(d.Sec)*time.Second + time.Duration(d.Nsec)
}

// Entry is one schedule element: wait Delay, then send Size bytes.
type Entry struct {
	Delay Delay
	Size  int
}

// SendFunc transmits one datagram of the given size. An error wrapping
// packet.ErrSocketClosed terminates the scheduler; any other error is
// logged and scheduling continues.
type SendFunc func(size int) error

var (
	ErrNotRunning = errors.New("scheduler not running")
)

// spinThreshold is the remaining wait below which the timing loop
// busy-spins instead of sleeping, to bound sleep overshoot.
const spinThreshold = 500 * time.Microsecond

type Config struct {
	MinSize int // smallest acceptable entry size
	MaxSize int // largest acceptable entry size
	// MaxPending bounds the queue; Submit blocks when full. 0 means
	// unbounded.
	MaxPending int
	Logger     *log.Logger
}

type pending struct {
	deadline time.Time
	size     int
}

type Scheduler struct {
	send SendFunc
	conf Config

	mu       sync.Mutex
	cond     *sync.Cond
	queue    fifo.Fifo[pending]
	deadline time.Time
	running  bool
	closed   bool
	err      error

	sent atomic.Uint64
	done chan struct{}
}

func New(send SendFunc, conf Config) *Scheduler {
	if conf.Logger == nil {
		conf.Logger = log.New(io.Discard, "", 0)
	}
	s := &Scheduler{
		send: send,
		conf: conf,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the timing loop. The first submitted entry's deadline
// is measured from this instant.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.closed {
		return ErrNotRunning
	}
	s.running = true
	s.deadline = time.Now()
	go s.loop()
	return nil
}

// Submit queues one entry. Validation failures are reported here, never
// after queuing. Submit blocks when a bounded queue is full, and
// reports ErrNotRunning on a scheduler that was not started or was
// closed.
func (s *Scheduler) Submit(e Entry) error {
	if e.Delay.Nsec >= 1e9 {
		return fmt.Errorf("delay nanoseconds %d out of range", e.Delay.Nsec)
	}
	if e.Size < s.conf.MinSize {
		return fmt.Errorf("packet size %d below minimum %d", e.Size, s.conf.MinSize)
	}
	if s.conf.MaxSize > 0 && e.Size > s.conf.MaxSize {
		return fmt.Errorf("packet size %d exceeds maximum %d", e.Size, s.conf.MaxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if !s.running || s.closed {
			return ErrNotRunning
		}
		if s.conf.MaxPending <= 0 || s.queue.Len() < s.conf.MaxPending {
			break
		}
		s.cond.Wait()
	}

	s.deadline = s.deadline.Add(e.Delay.Duration())
	s.queue.Enqueue(pending{deadline: s.deadline, size: e.Size})
	s.cond.Broadcast()
	return nil
}

// Close stops intake. Entries already queued are still transmitted at
// their deadlines, then the scheduler terminates. Safe to call multiple
// times and concurrently with Submit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !s.running {
		close(s.done)
	}
	s.cond.Broadcast()
}

// Done is closed once the timing loop has drained and exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Sent reports the number of successfully transmitted entries.
func (s *Scheduler) Sent() uint64 {
	return s.sent.Load()
}

// Err reports the fatal error that terminated the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.queue.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		p, ok := s.queue.Dequeue()
		if !ok {
			// queue empty and closed: natural end of the active phase
			s.running = false
			s.mu.Unlock()
			return
		}
		s.cond.Broadcast()
		s.mu.Unlock()

		waitUntil(p.deadline)

		if err := s.send(p.size); err != nil {
			if errors.Is(err, packet.ErrSocketClosed) {
				s.mu.Lock()
				s.err = err
				s.running = false
				s.closed = true
				s.cond.Broadcast()
				s.mu.Unlock()
				return
			}
			s.conf.Logger.Warnln("send failed:", err)
			continue
		}
		s.sent.Add(1)
	}
}

// waitUntil sleeps until close to the deadline, then spins the rest of
// the way. A deadline already in the past sends immediately.
func waitUntil(deadline time.Time) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return
	}
	if remaining > spinThreshold {
		time.Sleep(remaining - spinThreshold)
	}
	for time.Now().Before(deadline) {
	}
}
