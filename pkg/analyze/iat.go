package analyze

import (
	"time"

	"udpmeter/pkg/packet"
)

// Times extracts receive timestamps from records in receive order.
func Times(records []packet.Record) []packet.Timestamp {
	times := make([]packet.Timestamp, len(records))
	for i, r := range records {
		times[i] = r.ReceiveTime
	}
	return times
}

// IAT computes the inter-arrival times of chronologically ordered
// receive timestamps: one element fewer than the input. Empty or
// single-element input yields an empty result.
func IAT(times []packet.Timestamp) []time.Duration {
	if len(times) < 2 {
		return nil
	}
	iats := make([]time.Duration, len(times)-1)
	for i := 1; i < len(times); i++ {
		iats[i-1] = time.Duration(times[i] - times[i-1])
	}
	return iats
}

// Bin is one histogram bucket covering [Low, High).
type Bin struct {
	Low   time.Duration
	High  time.Duration
	Count int
}

// Histogram distributes values over equal-width bins between the
// smallest and largest value. The last bin is closed on both ends. An
// empty input yields an empty histogram; identical values collapse to
// a single bin.
func Histogram(values []time.Duration, bins int) []Bin {
	if len(values) == 0 || bins <= 0 {
		return nil
	}

	low, high := values[0], values[0]
	for _, v := range values[1:] {
		if v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	if low == high {
		return []Bin{{Low: low, High: high, Count: len(values)}}
	}

	width := float64(high-low) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Low = low + time.Duration(float64(i)*width)
		out[i].High = low + time.Duration(float64(i+1)*width)
	}
	out[bins-1].High = high
	for _, v := range values {
		i := int(float64(v-low) / width)
		if i >= bins {
			i = bins - 1
		}
		out[i].Count++
	}
	return out
}
