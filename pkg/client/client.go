// Package client implements the send side: a pacing scheduler feeding
// a connected datagram socket, and, in echo mode, a record stream of
// the datagrams the server sent back.
package client

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gologme/log"
	"golang.org/x/sys/unix"

	"udpmeter/pkg/gen"
	"udpmeter/pkg/metrics"
	"udpmeter/pkg/packet"
	"udpmeter/pkg/sched"
	"udpmeter/pkg/socket"
)

var ErrNotRunning = sched.ErrNotRunning

type Config struct {
	Network    string // defaults to "udp"
	Server     string // remote endpoint, e.g. "localhost:7800"
	BufferSize int    // largest packet that can be sent, defaults to 1500
	// Echo requests per-packet echo from the server and enables the
	// record stream of echoed packets.
	Echo bool
	// QueueDepth bounds the scheduler queue; Submit blocks when it is
	// full. 0 means unbounded.
	QueueDepth int
	// EchoGrace is how long to keep listening for late echoes after
	// the last packet went out. Defaults to 500ms.
	EchoGrace time.Duration
	// Session labels this run's metrics; generated when empty.
	Session string
}

type Client struct {
	conf Config
	log  *log.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	fd      int
	sched   *sched.Scheduler

	records  chan packet.Record
	echoDone chan struct{}
	done     chan struct{}
}

func New(conf Config, logger *log.Logger) *Client {
	if conf.Network == "" {
		conf.Network = "udp"
	}
	if conf.BufferSize == 0 {
		conf.BufferSize = 1500
	}
	if conf.EchoGrace == 0 {
		conf.EchoGrace = 500 * time.Millisecond
	}
	if conf.Session == "" {
		conf.Session = metrics.NewSession()
	}
	return &Client{
		conf:     conf,
		log:      logger,
		fd:       -1,
		records:  make(chan packet.Record, 64),
		echoDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start connects to the server and launches the timing loop, plus the
// echo receive loop when echo mode is on.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return ErrNotRunning
	}

	fd, _, err := socket.Dial(c.conf.Network, c.conf.Server)
	if err != nil {
		return err
	}
	if c.conf.Echo {
		if err := packet.EnableRxTimestamping(fd); err != nil {
			unix.Close(fd)
			return err
		}
	}

	send := packet.NewSender(fd, c.conf.BufferSize, c.conf.Echo)
	c.sched = sched.New(func(size int) error {
		if _, err := send(size); err != nil {
			metrics.SendErrors.WithLabelValues(c.conf.Session).Inc()
			return err
		}
		metrics.PacketsSent.WithLabelValues(c.conf.Session).Inc()
		return nil
	}, sched.Config{
		MinSize:    packet.MinSize,
		MaxSize:    c.conf.BufferSize,
		MaxPending: c.conf.QueueDepth,
		Logger:     c.log,
	})

	c.fd = fd
	c.started = true
	if err := c.sched.Start(); err != nil {
		return err
	}
	if c.conf.Echo {
		go c.echoLoop(fd)
	} else {
		close(c.records)
		close(c.echoDone)
	}
	go c.finish(fd)
	return nil
}

// Submit queues one packet: wait delay after the previous packet's
// deadline, then send size bytes. Reports ErrNotRunning on a client
// that was not started or was closed.
func (c *Client) Submit(delay sched.Delay, size int) error {
	c.mu.Lock()
	s := c.sched
	c.mu.Unlock()
	if s == nil {
		return ErrNotRunning
	}
	return s.Submit(sched.Entry{Delay: delay, Size: size})
}

// Run drains a schedule source into the scheduler and closes the
// client when the source is exhausted. The source may be slow or
// bursty; pacing of queued packets is unaffected.
func (c *Client) Run(src gen.Source) error {
	for {
		e, ok := src()
		if !ok {
			break
		}
		if err := c.Submit(e.Delay, e.Size); err != nil {
			return err
		}
	}
	c.Close()
	return nil
}

// Close stops intake; already queued packets still go out on schedule.
// Idempotent and safe to call concurrently with Submit and iteration.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if !c.started {
		close(c.records)
		close(c.echoDone)
		close(c.done)
		return
	}
	c.sched.Close()
}

// Records is the stream of echoed packets received back from the
// server, in arrival order. Closed, possibly empty, when echo mode is
// off or the client has stopped; consume from a single goroutine.
func (c *Client) Records() <-chan packet.Record {
	return c.records
}

// Sent reports the number of packets transmitted so far.
func (c *Client) Sent() uint64 {
	c.mu.Lock()
	s := c.sched
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.Sent()
}

// Join blocks until the client has fully stopped and reports the fatal
// error that ended the run, if any.
func (c *Client) Join() error {
	<-c.done
	c.mu.Lock()
	s := c.sched
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Err()
}

// echoLoop receives echoed datagrams until the socket is shut down for
// reading, publishing each as a record. The connected socket only
// delivers datagrams from the server, so no source filtering is
// needed.
func (c *Client) echoLoop(fd int) {
	defer func() {
		close(c.records)
		close(c.echoDone)
	}()

	recv := packet.NewReceiver(fd, c.conf.BufferSize)
	for {
		in, err := recv()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, packet.ErrSocketClosed):
			return
		case errors.Is(err, packet.ErrShortDatagram), errors.Is(err, packet.ErrOversizeDatagram):
			metrics.PacketsDropped.WithLabelValues(c.conf.Session, "echo").Inc()
			continue
		default:
			c.log.Warnln("echo receive:", err)
			continue
		}

		metrics.PacketsReceived.WithLabelValues(c.conf.Session).Inc()
		metrics.BytesReceived.WithLabelValues(c.conf.Session).Add(float64(in.Record.Size))
		c.records <- in.Record
	}
}

// finish tears the client down once the scheduler has drained: wait
// briefly for late echoes, unblock the echo loop, then release the
// socket.
func (c *Client) finish(fd int) {
	<-c.sched.Done()
	if c.conf.Echo {
		time.Sleep(c.conf.EchoGrace)
	}
	if err := unix.Shutdown(fd, unix.SHUT_RD); err != nil && err != unix.ENOTCONN {
		c.log.Warnln("shutdown:", err)
	}
	<-c.echoDone
	unix.Close(fd)
	close(c.done)
}
