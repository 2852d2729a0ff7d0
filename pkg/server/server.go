// Package server implements the receive side: a blocking loop that
// stamps arriving datagrams, optionally echoes them back, and publishes
// records on an ordered stream with close-driven termination.
package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ddirect/container/ttlmap"
	"github.com/gologme/log"
	"golang.org/x/sys/unix"

	"udpmeter/pkg/metrics"
	"udpmeter/pkg/packet"
	"udpmeter/pkg/socket"
)

type State int

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return "stopped"
	}
}

type Config struct {
	Network    string // defaults to "udp"
	Bind       string // local endpoint, e.g. ":7800"
	BufferSize int    // receive capacity ceiling, defaults to 1500
	// Echo controls whether per-packet echo requests are honored.
	Echo bool
	// Session labels this run's metrics; generated when empty.
	Session string
	// ClientTTL is the inactivity span after which a source counts as
	// gone. Defaults to one minute.
	ClientTTL time.Duration
}

// Server owns one bound datagram socket and its record stream. The
// stream has a single consumer; records arrive in receive order and the
// stream closes exactly once, after the last fully parsed record.
type Server struct {
	conf Config
	log  *log.Logger

	mu       sync.Mutex
	state    State
	fd       int
	bound    unix.Sockaddr
	records  chan packet.Record
	stop     chan struct{}
	done     chan struct{}
	stopping bool
}

func New(conf Config, logger *log.Logger) *Server {
	if conf.Network == "" {
		conf.Network = "udp"
	}
	if conf.BufferSize == 0 {
		conf.BufferSize = 1500
	}
	if conf.BufferSize < packet.MinSize {
		conf.BufferSize = packet.MinSize
	}
	if conf.Session == "" {
		conf.Session = metrics.NewSession()
	}
	if conf.ClientTTL == 0 {
		conf.ClientTTL = time.Minute
	}
	return &Server{
		conf:    conf,
		log:     logger,
		fd:      -1,
		records: make(chan packet.Record, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start binds the socket and launches the receive loop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("server is %s", s.state)
	}

	fd, err := socket.Listen(s.conf.Network, s.conf.Bind)
	if err != nil {
		return err
	}
	if err := packet.EnableRxTimestamping(fd); err != nil {
		unix.Close(fd)
		return err
	}
	bound, err := socket.LocalAddr(fd)
	if err != nil {
		unix.Close(fd)
		return err
	}

	s.fd = fd
	s.bound = bound
	s.state = Running
	s.log.Infoln("listening on", socket.AddrToString(bound))
	go s.run()
	return nil
}

// Addr reports the bound address; useful after binding to port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return s.conf.Bind
	}
	return socket.AddrToString(s.bound)
}

func (s *Server) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Session() string {
	return s.conf.Session
}

// Records is the server's record stream. It is closed when the server
// stops; consume from a single goroutine and drain until close. A
// consumer that stops draining stalls the receive loop, but Stop still
// terminates the server.
func (s *Server) Records() <-chan packet.Record {
	return s.records
}

// Stop requests termination. It unblocks the receive loop, lets any
// fully parsed record through, then closes the record stream. Safe to
// call multiple times and from concurrent goroutines; the second call
// is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Idle:
		s.state = Stopped
		close(s.stop)
		close(s.records)
		close(s.done)
	case Running:
		s.state = Draining
		s.stopping = true
		close(s.stop)
		// wakes the blocked recvmsg with a zero byte result; the
		// ENOTCONN this reports on unconnected sockets is expected
		if err := unix.Shutdown(s.fd, unix.SHUT_RD); err != nil && err != unix.ENOTCONN {
			s.log.Warnln("shutdown:", err)
		}
	}
}

// Join blocks until the server is fully stopped.
func (s *Server) Join() {
	<-s.done
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Server) run() {
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		fd := s.fd
		s.fd = -1
		s.mu.Unlock()
		if fd >= 0 {
			unix.Close(fd)
		}
		close(s.records)
		close(s.done)
	}()

	fd := s.fd
	recv := packet.NewReceiver(fd, s.conf.BufferSize)
	drop := func(reason string) {
		metrics.PacketsDropped.WithLabelValues(s.conf.Session, reason).Inc()
	}

	clients, expired := ttlmap.New[string, packet.Timestamp](s.conf.ClientTTL, time.Second)
	go func() {
		for {
			select {
			case <-s.done:
				return
			case gone := <-expired:
				for client := range gone {
					s.log.Infoln("client", client.Key(), "expired")
				}
			}
		}
	}()

	for {
		in, err := recv()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if s.isStopping() {
				return
			}
			// a stray zero length datagram, not our shutdown wakeup
			drop("empty")
			continue
		case errors.Is(err, packet.ErrSocketClosed):
			if !s.isStopping() {
				s.log.Errorln("receive:", err)
			}
			return
		case errors.Is(err, packet.ErrOversizeDatagram):
			drop("oversize")
			continue
		case errors.Is(err, packet.ErrShortDatagram):
			drop("short")
			continue
		default:
			s.log.Warnln("receive:", err)
			continue
		}

		// echo first, so echo latency is not inflated by logging
		if in.Flags&packet.EchoFlag != 0 && s.conf.Echo {
			if err := unix.Sendto(fd, in.Raw, 0, in.From); err != nil {
				s.log.Warnln("echo:", err)
			} else {
				metrics.EchoesSent.WithLabelValues(s.conf.Session).Inc()
			}
		}

		client, found := clients.GetOrCreate(in.Record.Source)
		if !found {
			s.log.Infoln("new client", client.Key())
		}
		client.Value = in.Record.ReceiveTime

		metrics.PacketsReceived.WithLabelValues(s.conf.Session).Inc()
		metrics.BytesReceived.WithLabelValues(s.conf.Session).Add(float64(in.Record.Size))

		select {
		case s.records <- in.Record:
		default:
			// the stream is full; keep waiting for the consumer unless
			// a stop arrives, so an abandoned stream cannot wedge Join
			select {
			case s.records <- in.Record:
			case <-s.stop:
				drop("stalled")
				return
			}
		}
	}
}
