package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_EmitsOncePerEpisode(t *testing.T) {
	var emitted atomic.Int32
	n := newNotifier(time.Minute, func() { emitted.Add(1) })

	assert.True(t, n.Raise())
	assert.False(t, n.Raise())
	assert.False(t, n.Raise())
	assert.Equal(t, int32(1), emitted.Load())
	assert.True(t, n.Outstanding())

	assert.True(t, n.Resolve())
	assert.False(t, n.Outstanding())

	assert.True(t, n.Raise(), "a new episode notifies again")
	assert.Equal(t, int32(2), emitted.Load())

	n.Resolve()
	n.wait()
}

func TestNotifier_WindowExpires(t *testing.T) {
	n := newNotifier(10*time.Millisecond, func() {})

	n.Raise()
	require.Eventually(t, func() bool { return !n.Outstanding() },
		time.Second, 5*time.Millisecond)

	assert.False(t, n.Raise(), "expiry does not end the episode")
	assert.True(t, n.Resolve())
	n.wait()
}

func TestNotifier_ResolveWithoutNotice(t *testing.T) {
	n := newNotifier(time.Minute, func() {})
	assert.False(t, n.Resolve())
	assert.False(t, n.Outstanding())
}
