package packet

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type (
	Timestamp int64 // unix time in nanoseconds - differences can be cast directly to time.Duration
)

// Header is the fixed on-wire prefix of every datagram. Remaining bytes
// up to the requested packet size are filler.
type Header struct {
	Sequence uint64
	Sec      int64
	Nsec     uint32
	Flags    uint8
}

const (
	HeaderSize = 21
	// MinSize is the smallest valid packet: just the header, no filler.
	MinSize = HeaderSize

	// EchoFlag requests that the server sends the datagram back unchanged.
	EchoFlag = 1
)

var (
	ErrTimestampNotFound = errors.New("no timestamp found in control data")
	ErrTimespecTruncated = errors.New("not enough data received for Timespec")
)

const (
	ctlBufSize = 64 // enough for a single Timespec plus Cmsghdr (on x86_64)
)

func Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}

// Time converts to a wall clock time.Time (no monotonic reading).
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t)/1e9, int64(t)%1e9)
}

// String formats the timestamp as decimal seconds since the epoch with
// nanosecond digits, the form used in TSV output.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", int64(t)/1e9, int64(t)%1e9)
}

func (h *Header) Timestamp() Timestamp {
	return Timestamp(h.Sec*1e9 + int64(h.Nsec))
}

// EnableRxTimestamping makes the kernel attach a receive timestamp to
// every datagram read from fd.
func EnableRxTimestamping(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1); err != nil {
		return fmt.Errorf("setsockopt SO_TIMESTAMPNS: %w", err)
	}
	return nil
}

func decodeTimestamp(buf []byte) (Timestamp, error) {
	for len(buf) > 0 {
		hdr, data, remainder, err := unix.ParseOneSocketControlMessage(buf)
		if err != nil {
			return 0, fmt.Errorf("unix.ParseOneSocketControlMessage: %w", err)
		}

		if hdr.Level == unix.SOL_SOCKET && hdr.Type == unix.SCM_TIMESTAMPNS {
			if uintptr(len(data)) < unsafe.Sizeof(unix.Timespec{}) {
				return 0, ErrTimespecTruncated
			}
			ts := (*unix.Timespec)(unsafe.Pointer(unsafe.SliceData(data)))
			return Timestamp(ts.Nano()), nil
		}

		buf = remainder
	}
	return 0, ErrTimestampNotFound
}
