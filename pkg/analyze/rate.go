// Package analyze computes throughput and inter-arrival statistics
// from completed measurement logs.
package analyze

import (
	"fmt"

	"udpmeter/pkg/packet"
)

// Point is one received packet reduced to what the rate estimator
// needs.
type Point struct {
	Time packet.Timestamp
	Size int
}

// RateSample is the estimated throughput over one sliding window,
// reported at the window center.
type RateSample struct {
	Time       packet.Timestamp
	BitsPerSec float64
}

// Points extracts (receive time, size) pairs from records, which must
// be in receive order.
func Points(records []packet.Record) []Point {
	points := make([]Point, len(records))
	for i, r := range records {
		points[i] = Point{Time: r.ReceiveTime, Size: r.Size}
	}
	return points
}

// Rate estimates throughput over a sliding window. avgWidth sets the
// window width as a fraction of the total measurement duration, in
// (0, 1]; window centers step by half a window. Each window covers the
// half-open interval (center-half, center+half], so with uniformly
// spaced input every point is counted exactly once per window width.
//
// Because points are ordered by time, the window's left edge only moves
// forward; a single advancing cursor makes the total cost linear.
//
// Fewer than two points, or a zero measurement duration, produce no
// samples.
func Rate(points []Point, avgWidth float64) ([]RateSample, error) {
	if avgWidth <= 0 || avgWidth > 1 {
		return nil, fmt.Errorf("avgWidth %v outside (0, 1]", avgWidth)
	}
	if len(points) < 2 {
		return nil, nil
	}

	// work relative to the first point; absolute nanosecond epoch
	// values do not fit float64 precision
	first := points[0].Time
	duration := float64(points[len(points)-1].Time - first)
	if duration <= 0 {
		return nil, nil
	}
	width := duration * avgWidth
	half := width / 2

	rel := func(i int) float64 {
		return float64(points[i].Time - first)
	}

	var samples []RateSample
	low := 0
	for center := half; ; center += half {
		// advance to the lowest index inside the window
		for i := low; i < len(points); i++ {
			low = i
			if rel(i) > center-half {
				break
			}
		}
		bytes := 0
		for i := low; i < len(points); i++ {
			if rel(i) > center+half {
				break
			}
			bytes += points[i].Size
		}
		samples = append(samples, RateSample{
			Time:       first + packet.Timestamp(center),
			BitsPerSec: float64(bytes) / width * 1e9 * 8,
		})
		if center+half >= duration {
			break
		}
	}
	return samples, nil
}
