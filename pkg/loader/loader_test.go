package loader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounting(t *testing.T) {
	t.Run("work and terminate bracket in-flight units", func(t *testing.T) {
		c := NewCounting()

		t1 := c.Work()
		t2 := c.Work()
		require.NotEqual(t, t1, t2)
		require.Equal(t, 2, c.Active())
		require.Equal(t, 2, c.Worked())

		c.Terminate(t1)
		require.Equal(t, 1, c.Active())
		require.Equal(t, 2, c.Worked())

		c.Terminate(t2)
		c.Terminate(t2)
		require.Equal(t, 0, c.Active())
	})
}

func TestNoop(t *testing.T) {
	t.Run("the silent loader does nothing, safely", func(t *testing.T) {
		var l Loader = Noop{}
		l.Terminate(l.Work())
	})
}
