package ports

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// occupy binds a listener on 127.0.0.1:port for the duration of the test.
// The test is skipped if the host already uses the port.
func occupy(t *testing.T, port int) {
	t.Helper()
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Skipf("port %d unavailable on this host: %v", port, err)
	}
	t.Cleanup(func() { _ = l.Close() })
}

// stubProbe replaces the bind probe with a set of taken ports.
func stubProbe(t *testing.T, taken func(port int) bool) {
	t.Helper()
	orig := probe
	probe = func(port int) bool { return !taken(port) }
	t.Cleanup(func() { probe = orig })
}

func TestFindFreePort(t *testing.T) {
	t.Run("skips ports that are already bound", func(t *testing.T) {
		// Pick a base that is free right now, then occupy it and its neighbour.
		base, err := FindFreePort(20000)
		require.NoError(t, err)
		if base > MaxPort-3 {
			t.Skip("not enough headroom above the free port")
		}
		occupy(t, base)
		occupy(t, base+1)

		port, err := FindFreePort(base)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, base+2)
	})

	t.Run("skips two consecutive bound ports", func(t *testing.T) {
		stubProbe(t, func(port int) bool { return port == 9222 || port == 9223 })

		port, err := FindFreePort(9222)
		require.NoError(t, err)
		assert.Equal(t, 9224, port)
	})

	t.Run("exhausted range returns ErrPortExhausted", func(t *testing.T) {
		stubProbe(t, func(int) bool { return true })

		_, err := FindFreePort(65000)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPortExhausted)
	})

	t.Run("never returns the exclusive upper bound", func(t *testing.T) {
		var probed []int
		orig := probe
		probe = func(port int) bool { probed = append(probed, port); return false }
		t.Cleanup(func() { probe = orig })

		_, err := FindFreePort(MaxPort - 2)
		require.ErrorIs(t, err, ErrPortExhausted)
		assert.Equal(t, []int{MaxPort - 2, MaxPort - 1}, probed)
	})

	t.Run("rejects out of range start", func(t *testing.T) {
		for _, start := range []int{0, -1, MaxPort} {
			_, err := FindFreePort(start)
			assert.ErrorIs(t, err, ErrInvalidPort, "start=%d", start)
		}
	})
}

func TestAllocator(t *testing.T) {
	t.Run("advances past each returned port", func(t *testing.T) {
		stubProbe(t, func(port int) bool { return port == 9223 })

		a, err := NewAllocator(9222)
		require.NoError(t, err)

		first, err := a.Next()
		require.NoError(t, err)
		second, err := a.Next()
		require.NoError(t, err)

		assert.Equal(t, 9222, first)
		assert.Equal(t, 9224, second)
	})

	t.Run("wraps to the base when the top is exhausted", func(t *testing.T) {
		stubProbe(t, func(port int) bool { return port >= 9300 })

		a, err := NewAllocator(9222)
		require.NoError(t, err)
		a.next = 9300

		port, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, 9222, port)
	})

	t.Run("reset restarts at the base", func(t *testing.T) {
		stubProbe(t, func(int) bool { return false })

		a, err := NewAllocator(9222)
		require.NoError(t, err)
		_, _ = a.Next()
		_, _ = a.Next()
		a.Reset()

		port, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, 9222, port)
	})

	t.Run("invalid base", func(t *testing.T) {
		_, err := NewAllocator(0)
		assert.ErrorIs(t, err, ErrInvalidPort)
	})
}
