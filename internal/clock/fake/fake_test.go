package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdvanceFiresDueWaiters(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0).UTC()
	clk := New(start)
	short := clk.After(time.Second)
	long := clk.After(time.Minute)
	require.Equal(t, 2, clk.Pending())

	clk.Advance(2 * time.Second)

	select {
	case got := <-short:
		require.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("expected short waiter to fire")
	}
	select {
	case <-long:
		t.Fatal("long waiter fired early")
	default:
	}
	require.Equal(t, 1, clk.Pending())
}

func TestAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	select {
	case <-clk.After(0):
	default:
		t.Fatal("expected immediate fire")
	}
	require.Zero(t, clk.Pending())
}

func TestWaitForTimersUnblocksOnRegistration(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		<-clk.After(time.Hour)
		close(done)
	}()
	clk.WaitForTimers(1)
	clk.Advance(time.Hour)
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
