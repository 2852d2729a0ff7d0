package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"udpmeter/pkg/socket"
)

var (
	// ErrShortDatagram marks a datagram too small to carry a header.
	// Such packets are dropped, not logged.
	ErrShortDatagram = errors.New("datagram shorter than header")
	// ErrOversizeDatagram marks a datagram larger than the receive
	// buffer. The buffer size is a hard capacity ceiling: the packet is
	// dropped, never truncated into a log record.
	ErrOversizeDatagram = errors.New("datagram exceeds buffer size")
)

// Inbound is one received datagram together with its parsed record.
type Inbound struct {
	Record Record
	Flags  uint8
	From   unix.Sockaddr
	// Raw aliases the receive buffer and is only valid until the next
	// receive call. Intended for immediate echo transmission.
	Raw []byte
}

// NewReceiver returns a function that blocks for the next datagram on fd
// and stamps its arrival time, preferring the kernel receive timestamp
// over the local clock. It returns io.EOF when the socket has been shut
// down for reading, which on Linux wakes the blocked call with a
// zero-byte result. ErrShortDatagram and ErrOversizeDatagram describe
// packets to drop; the loop may continue after them.
func NewReceiver(fd int, bufferSize int) func() (Inbound, error) {
	buf := make([]byte, bufferSize)
	ctlBuf := make([]byte, ctlBufSize)

	return func() (Inbound, error) {
		n, ctlN, recvFlags, from, err := unix.Recvmsg(fd, buf, ctlBuf, 0)
		if err != nil {
			if err == unix.EBADF || err == unix.ENOTCONN {
				return Inbound{}, fmt.Errorf("recvmsg: %v: %w", err, ErrSocketClosed)
			}
			return Inbound{}, fmt.Errorf("recvmsg: %w", err)
		}
		if n == 0 {
			return Inbound{}, io.EOF
		}

		rtime, err := decodeTimestamp(ctlBuf[:ctlN])
		if err != nil {
			// no kernel stamp available, fall back to the local clock
			rtime = Now()
		}

		if recvFlags&unix.MSG_TRUNC != 0 {
			return Inbound{}, ErrOversizeDatagram
		}
		if n < MinSize {
			return Inbound{}, ErrShortDatagram
		}

		var h Header
		if _, err := binary.Decode(buf[:HeaderSize], binary.BigEndian, &h); err != nil {
			return Inbound{}, fmt.Errorf("binary.Decode on header: %w", err)
		}

		return Inbound{
			Record: Record{
				Source:      sourceString(from),
				Sequence:    h.Sequence,
				Size:        n,
				Timestamp:   h.Timestamp(),
				ReceiveTime: rtime,
			},
			Flags: h.Flags,
			From:  from,
			Raw:   buf[:n],
		}, nil
	}
}

func sourceString(sa unix.Sockaddr) string {
	if sa == nil {
		return ""
	}
	return socket.AddrToString(sa)
}
