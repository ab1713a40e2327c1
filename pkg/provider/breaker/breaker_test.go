package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/provider/breaker"
)

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	b := breaker.New(breaker.Config{ConsecutiveTrip: 3, FailureThreshold: 100, WindowSize: 100})
	require.Equal(t, breaker.Closed, b.State())

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, breaker.Open, b.State())
	require.False(t, b.Allow())
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	b := breaker.New(breaker.Config{ConsecutiveTrip: 1, FailureThreshold: 100, WindowSize: 100, OpenDuration: time.Millisecond})
	b.RecordFailure()
	require.Equal(t, breaker.Open, b.State())

	time.Sleep(2 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, breaker.HalfOpen, b.State())

	// a second concurrent probe is rejected
	require.False(t, b.Allow())

	b.RecordSuccess()
	require.Equal(t, breaker.Closed, b.State())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := breaker.New(breaker.Config{ConsecutiveTrip: 1, FailureThreshold: 100, WindowSize: 100, OpenDuration: time.Millisecond})
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordFailure()
	require.Equal(t, breaker.Open, b.State())
}

func TestBreakerWindowThresholdTrips(t *testing.T) {
	b := breaker.New(breaker.Config{ConsecutiveTrip: 100, FailureThreshold: 2, WindowSize: 5})
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	require.Equal(t, breaker.Open, b.State())
}

func TestBreakerSuccessResetsWindowInClosed(t *testing.T) {
	b := breaker.New(breaker.Config{ConsecutiveTrip: 100, FailureThreshold: 2, WindowSize: 5})
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess() // resets the window
	b.Allow()
	b.RecordFailure()
	require.Equal(t, breaker.Closed, b.State())
}

func TestRegistryReusesBreakerPerProvider(t *testing.T) {
	r := breaker.NewRegistry(breaker.DefaultConfig())
	require.True(t, r.Allows("p1"))
	b1 := r.For("p1")
	b2 := r.For("p1")
	require.Same(t, b1, b2)
}
