package playback_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/clipvault/playback"
)

func preemptedNow(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestAcquirePreemptsPreviousHolder(t *testing.T) {
	a := playback.New()

	_, first := a.Acquire("surface-1")
	require.False(t, preemptedNow(first))
	assert.Equal(t, "surface-1", a.Active())

	_, second := a.Acquire("surface-2")
	assert.True(t, preemptedNow(first))
	assert.False(t, preemptedNow(second))
	assert.Equal(t, "surface-2", a.Active())
}

func TestReleaseClearsActiveHolder(t *testing.T) {
	a := playback.New()

	release, _ := a.Acquire("surface-1")
	release()
	assert.Equal(t, "", a.Active())
}

func TestStaleReleaseIsNoOp(t *testing.T) {
	a := playback.New()

	releaseFirst, _ := a.Acquire("surface-1")
	_, _ = a.Acquire("surface-2")

	// The preempted holder's release must not evict the new holder.
	releaseFirst()
	assert.Equal(t, "surface-2", a.Active())
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := playback.New()

	release, _ := a.Acquire("surface-1")
	release()
	release()
	assert.Equal(t, "", a.Active())

	_, ch := a.Acquire("surface-2")
	release()
	assert.False(t, preemptedNow(ch))
	assert.Equal(t, "surface-2", a.Active())
}

func TestReacquireSameSurface(t *testing.T) {
	a := playback.New()

	_, first := a.Acquire("surface-1")
	_, second := a.Acquire("surface-1")

	// Same surface re-acquiring still preempts the older handle.
	assert.True(t, preemptedNow(first))
	assert.False(t, preemptedNow(second))
	assert.Equal(t, "surface-1", a.Active())
}
