package rt_test

import (
	"io"
	"testing"

	"github.com/gologme/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udpmeter/pkg/rt"
)

func Test_HardenBestEffort(t *testing.T) {
	// must warn and continue whatever privileges the environment grants
	rt.Harden(log.New(io.Discard, "", 0))
}

func Test_PageFaults(t *testing.T) {
	minor, major, err := rt.PageFaults()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, minor, int64(0))
	assert.GreaterOrEqual(t, major, int64(0))

	// touching fresh pages can only move the counters forward
	buf := make([]byte, 1<<20)
	for i := 0; i < len(buf); i += 4096 {
		buf[i] = 1
	}
	assert.Equal(t, byte(1), buf[0])

	minor2, major2, err := rt.PageFaults()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, minor2, minor)
	assert.GreaterOrEqual(t, major2, major)
}
