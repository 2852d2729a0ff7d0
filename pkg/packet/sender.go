package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrSocketClosed marks a send failure that means the socket is no
	// longer usable; the caller should stop sending.
	ErrSocketClosed = errors.New("socket closed")
)

// NewSender returns a function which transmits one datagram of exactly
// size bytes on the connected socket fd. The sender owns the sequence
// counter, starting at 0, and stamps the wall clock send time into the
// header at the actual transmit instant, not at any scheduled time. The
// sequence advances only after a successful send.
//
// Sizes below MinSize or above bufferSize are rejected before any I/O.
func NewSender(fd int, bufferSize int, echo bool) func(size int) (Timestamp, error) {
	buf := make([]byte, bufferSize)
	var seq uint64
	var flags uint8
	if echo {
		flags = EchoFlag
	}

	return func(size int) (Timestamp, error) {
		if size < MinSize {
			return 0, fmt.Errorf("packet size %d below minimum %d", size, MinSize)
		}
		if size > bufferSize {
			return 0, fmt.Errorf("packet size %d exceeds buffer size %d", size, bufferSize)
		}

		now := Now()
		h := Header{
			Sequence: seq,
			Sec:      int64(now) / 1e9,
			Nsec:     uint32(int64(now) % 1e9),
			Flags:    flags,
		}
		if _, err := binary.Encode(buf[:HeaderSize], binary.BigEndian, &h); err != nil {
			return 0, fmt.Errorf("binary.Encode on header: %w", err)
		}

		if err := unix.Sendto(fd, buf[:size], 0, nil); err != nil {
			if err == unix.EBADF || err == unix.EPIPE || err == unix.ENOTCONN {
				return 0, fmt.Errorf("send: %v: %w", err, ErrSocketClosed)
			}
			return 0, fmt.Errorf("send: %w", err)
		}

		seq++
		return now, nil
	}
}
