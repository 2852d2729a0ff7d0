// Package gen provides schedule sources: lazy producers of the
// (delay, size) sequence a pacing scheduler executes. Sources are
// selected by name and configured through a string-keyed options map
// with documented defaults; a malformed value is a construction error,
// never a silently miscomputed schedule.
package gen

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"udpmeter/pkg/packet"
	"udpmeter/pkg/sched"
)

// A Source yields the next schedule entry, or false when exhausted.
// Sources may be infinite and are consumed exactly once.
type Source func() (sched.Entry, bool)

// Options configures a source at construction time. Unknown keys are
// ignored; missing keys fall back to per-source defaults.
type Options map[string]string

func (o Options) Int(key string, def int) (int, error) {
	s, ok := o[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return v, nil
}

func (o Options) Float(key string, def float64) (float64, error) {
	s, ok := o[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return v, nil
}

type Factory func(Options) (Source, error)

var registry = map[string]Factory{
	"default":  newDefault,
	"rapid":    newRapid,
	"large":    newLarge,
	"vary":     newVary,
	"interval": newInterval,
	"datarate": newDatarate,
	"random":   newRandom,
}

// New builds the named source. Option parsing failures surface here.
func New(name string, opts Options) (Source, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown generator %q", name)
	}
	return factory(opts)
}

// Names lists the available generators, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func delayOf(d time.Duration) sched.Delay {
	return sched.Delay{
		Sec:  uint64(d / time.Second),
		Nsec: uint32(d % time.Second),
	}
}

// fixed yields count entries of the same delay and size; count <= 0
// means an infinite source.
func fixed(count int, delay sched.Delay, size int) Source {
	i := 0
	return func() (sched.Entry, bool) {
		if count > 0 && i >= count {
			return sched.Entry{}, false
		}
		i++
		return sched.Entry{Delay: delay, Size: size}, true
	}
}

// default: a minimum size packet every 500ms. Options: count (10).
func newDefault(opts Options) (Source, error) {
	count, err := opts.Int("count", 10)
	if err != nil {
		return nil, err
	}
	return fixed(count, delayOf(500*time.Millisecond), packet.MinSize), nil
}

// rapid: a minimum size packet every 30µs. Options: count (10).
func newRapid(opts Options) (Source, error) {
	count, err := opts.Int("count", 10)
	if err != nil {
		return nil, err
	}
	return fixed(count, delayOf(30*time.Microsecond), packet.MinSize), nil
}

// large: a 1500 byte packet every 1ms. Options: count (10).
func newLarge(opts Options) (Source, error) {
	count, err := opts.Int("count", 10)
	if err != nil {
		return nil, err
	}
	return fixed(count, delayOf(time.Millisecond), 1500), nil
}

// vary: size doubles from minimum to 1500 and halves back down, one
// packet every 1ms. Options: count (20).
func newVary(opts Options) (Source, error) {
	count, err := opts.Int("count", 20)
	if err != nil {
		return nil, err
	}
	delay := delayOf(time.Millisecond)
	const maxSize = 1500
	size := packet.MinSize
	grow := true
	i := 0
	return func() (sched.Entry, bool) {
		if i >= count {
			return sched.Entry{}, false
		}
		i++
		e := sched.Entry{Delay: delay, Size: min(size, maxSize)}
		if grow {
			size *= 2
			grow = size < maxSize
		} else {
			size = max(packet.MinSize, size/2)
			grow = size <= packet.MinSize
		}
		return e, true
	}, nil
}

// interval: a fixed interval stream. Options: count (100, 0 = run until
// closed), usec (1000), size (minimum packet size).
func newInterval(opts Options) (Source, error) {
	count, err := opts.Int("count", 100)
	if err != nil {
		return nil, err
	}
	usec, err := opts.Int("usec", 1000)
	if err != nil {
		return nil, err
	}
	size, err := opts.Int("size", packet.MinSize)
	if err != nil {
		return nil, err
	}
	if usec <= 0 {
		return nil, fmt.Errorf("option usec: must be positive, got %d", usec)
	}
	return fixed(count, delayOf(time.Duration(usec)*time.Microsecond), size), nil
}

// datarate: packets sized and spaced for a target rate. Options: mbps
// (1.2), size (1452, which fills a 1500 byte MTU next to IPv6 and UDP
// headers), duration (10 seconds).
func newDatarate(opts Options) (Source, error) {
	mbps, err := opts.Float("mbps", 1.2)
	if err != nil {
		return nil, err
	}
	size, err := opts.Int("size", 1452)
	if err != nil {
		return nil, err
	}
	duration, err := opts.Float("duration", 10)
	if err != nil {
		return nil, err
	}
	if mbps <= 0 || size <= 0 || duration <= 0 {
		return nil, fmt.Errorf("options mbps, size and duration must be positive")
	}

	pps := mbps * 1e6 / 8 / float64(size)
	ist := time.Duration(float64(time.Second) / pps)
	count := int(time.Duration(duration*float64(time.Second)) / ist)
	return fixed(count, delayOf(ist), size), nil
}

// random: a random size in [minimum, max] per packet. Options: count
// (200), usec (1000), max (512).
func newRandom(opts Options) (Source, error) {
	count, err := opts.Int("count", 200)
	if err != nil {
		return nil, err
	}
	usec, err := opts.Int("usec", 1000)
	if err != nil {
		return nil, err
	}
	maxSize, err := opts.Int("max", 512)
	if err != nil {
		return nil, err
	}
	if maxSize < packet.MinSize {
		return nil, fmt.Errorf("option max: must be at least %d, got %d", packet.MinSize, maxSize)
	}
	delay := delayOf(time.Duration(usec) * time.Microsecond)
	i := 0
	return func() (sched.Entry, bool) {
		if count > 0 && i >= count {
			return sched.Entry{}, false
		}
		i++
		size := packet.MinSize + rand.IntN(maxSize-packet.MinSize+1)
		return sched.Entry{Delay: delay, Size: size}, true
	}, nil
}
