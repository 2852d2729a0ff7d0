package gen_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpmeter/pkg/gen"
	"udpmeter/pkg/packet"
	"udpmeter/pkg/sched"
)

func drain(t *testing.T, src gen.Source, limit int) []sched.Entry {
	t.Helper()
	var out []sched.Entry
	for len(out) < limit {
		e, ok := src()
		if !ok {
			return out
		}
		out = append(out, e)
	}
	t.Fatalf("source did not finish within %d entries", limit)
	return nil
}

func Test_UnknownGenerator(t *testing.T) {
	_, err := gen.New("no-such", nil)
	assert.Error(t, err)
}

func Test_Names(t *testing.T) {
	names := gen.Names()
	assert.Contains(t, names, "default")
	assert.Contains(t, names, "datarate")
}

func Test_Default(t *testing.T) {
	src, err := gen.New("default", nil)
	require.NoError(t, err)

	entries := drain(t, src, 100)
	require.Len(t, entries, 10)
	for _, e := range entries {
		assert.Equal(t, packet.MinSize, e.Size)
		assert.Equal(t, 500*time.Millisecond, e.Delay.Duration())
	}

	// consumed exactly once: the source stays exhausted
	_, ok := src()
	assert.False(t, ok)
}

func Test_CountOption(t *testing.T) {
	src, err := gen.New("rapid", gen.Options{"count": "3"})
	require.NoError(t, err)
	assert.Len(t, drain(t, src, 100), 3)
}

func Test_MalformedOptionFailsConstruction(t *testing.T) {
	_, err := gen.New("interval", gen.Options{"count": "many"})
	assert.Error(t, err)
	_, err = gen.New("interval", gen.Options{"usec": "-5"})
	assert.Error(t, err)
	_, err = gen.New("datarate", gen.Options{"mbps": "0"})
	assert.Error(t, err)
	_, err = gen.New("random", gen.Options{"max": "2"})
	assert.Error(t, err)
}

func Test_UnknownOptionIgnored(t *testing.T) {
	src, err := gen.New("default", gen.Options{"shape": "sawtooth"})
	require.NoError(t, err)
	assert.Len(t, drain(t, src, 100), 10)
}

func Test_Vary(t *testing.T) {
	src, err := gen.New("vary", nil)
	require.NoError(t, err)

	entries := drain(t, src, 100)
	require.Len(t, entries, 20)
	assert.Equal(t, packet.MinSize, entries[0].Size)
	for i, e := range entries {
		assert.GreaterOrEqual(t, e.Size, packet.MinSize, "entry %d", i)
		assert.LessOrEqual(t, e.Size, 1500, "entry %d", i)
	}
	// the size must reach the cap and come back down to the minimum
	assert.Equal(t, 1500, entries[7].Size)
	assert.Equal(t, packet.MinSize, entries[14].Size)
}

func Test_Interval(t *testing.T) {
	src, err := gen.New("interval", gen.Options{"count": "5", "usec": "250", "size": "100"})
	require.NoError(t, err)

	entries := drain(t, src, 100)
	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, 100, e.Size)
		assert.Equal(t, 250*time.Microsecond, e.Delay.Duration())
	}
}

func Test_IntervalInfinite(t *testing.T) {
	src, err := gen.New("interval", gen.Options{"count": "0"})
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		_, ok := src()
		require.True(t, ok)
	}
}

func Test_Datarate(t *testing.T) {
	src, err := gen.New("datarate", gen.Options{"mbps": "8", "size": "1000", "duration": "1"})
	require.NoError(t, err)

	// 8 Mbit/s in 1000 byte packets is 1000 packets/s
	entries := drain(t, src, 2000)
	require.Len(t, entries, 1000)
	assert.Equal(t, time.Millisecond, entries[0].Delay.Duration())
	assert.Equal(t, 1000, entries[0].Size)
}

func Test_Random(t *testing.T) {
	src, err := gen.New("random", gen.Options{"count": "50", "max": "64"})
	require.NoError(t, err)

	entries := drain(t, src, 100)
	require.Len(t, entries, 50)
	for _, e := range entries {
		assert.GreaterOrEqual(t, e.Size, packet.MinSize)
		assert.LessOrEqual(t, e.Size, 64)
	}
}
