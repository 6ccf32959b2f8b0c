package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommandTracker(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewCommandTracker(time.Minute)
	tr.now = func() time.Time { return now }

	state, cached := tr.Begin("u1", "c1")
	assert.Equal(t, trackNew, state)
	assert.Nil(t, cached)

	state, _ = tr.Begin("u1", "c1")
	assert.Equal(t, trackInFlight, state, "expected a running command to be reported in flight")

	state, _ = tr.Begin("u2", "c1")
	assert.Equal(t, trackNew, state, "expected command ids to be scoped per user")

	resp := NoErrOK("c1", nil)
	tr.Complete("u1", "c1", resp)

	state, cached = tr.Begin("u1", "c1")
	assert.Equal(t, trackDone, state)
	assert.Same(t, resp, cached)

	tr.Abort("u2", "c1")
	state, _ = tr.Begin("u2", "c1")
	assert.Equal(t, trackNew, state, "expected an aborted command to be retryable")

	now = now.Add(2 * time.Minute)
	state, _ = tr.Begin("u1", "c1")
	assert.Equal(t, trackNew, state, "expected expired commands to be forgotten")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, tr.Prune())
	assert.Equal(t, 0, tr.size())
}

func TestCommandTracker_EmptyId(t *testing.T) {
	tr := NewCommandTracker(0)
	assert.Equal(t, defaultCommandTTL, tr.ttl)

	for i := 0; i < 2; i++ {
		state, _ := tr.Begin("u1", "")
		assert.Equal(t, trackNew, state, "expected commands without id not to be tracked")
	}
	tr.Complete("u1", "", NoErrOK("", nil))
	assert.Equal(t, 0, tr.size())
}
