package packet

import (
	"fmt"
	"strconv"
	"strings"
)

// TSVHeader is the column line preceding records in text output. The
// column order is stable; offline analyzers depend on it.
const TSVHeader = "source\tsequence\tsize\ttimestamp\treceive_time"

// A Record describes one received datagram. It is immutable once
// published on a record stream.
type Record struct {
	Source      string
	Sequence    uint64
	Size        int
	Timestamp   Timestamp // send time taken from the packet header
	ReceiveTime Timestamp // arrival time stamped by the receiver
}

// TSV renders the record as one tab-separated line, without trailing
// newline, in TSVHeader column order.
func (r *Record) TSV() string {
	return fmt.Sprintf("%s\t%d\t%d\t%s\t%s", r.Source, r.Sequence, r.Size, r.Timestamp, r.ReceiveTime)
}

func (r *Record) String() string {
	return r.TSV()
}

// ParseTimestamp reads a decimal-seconds string back into a Timestamp.
// The fractional part may have up to nine digits.
func ParseTimestamp(s string) (Timestamp, error) {
	secStr, fracStr, found := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	var nsec int64
	if found {
		if len(fracStr) > 9 {
			return 0, fmt.Errorf("parse timestamp %q: more than nanosecond precision", s)
		}
		nsec, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		for i := len(fracStr); i < 9; i++ {
			nsec *= 10
		}
	}
	return Timestamp(sec*1e9 + nsec), nil
}
