package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		update channel.StatusUpdate
		want   Cause
	}{
		{"logged out flag wins", channel.StatusUpdate{Code: 401, LoggedOut: true}, CauseLoggedOut},
		{"401", channel.StatusUpdate{Code: 401}, CauseAuthFailure},
		{"403", channel.StatusUpdate{Code: 403}, CauseAuthFailure},
		{"405", channel.StatusUpdate{Code: 405}, CauseAuthFailure},
		{"515", channel.StatusUpdate{Code: 515}, CauseStreamError},
		{"402", channel.StatusUpdate{Code: 402}, CauseFatal},
		{"411", channel.StatusUpdate{Code: 411}, CauseFatal},
		{"428", channel.StatusUpdate{Code: 428}, CauseRecoverable},
		{"unknown", channel.StatusUpdate{}, CauseRecoverable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.update))
		})
	}
}

func TestEvaluateAuthFailureStopsAfterLimit(t *testing.T) {
	p := DefaultPolicy()
	var c Counters

	for i := 1; i <= 3; i++ {
		d := p.Evaluate(CauseAuthFailure, &c)
		assert.True(t, d.Reconnect, "attempt %d", i)
		assert.True(t, d.ClearSession, "attempt %d", i)
		assert.Equal(t, 5*time.Second, d.Delay)
		assert.Equal(t, i, c.AuthFailures)
	}

	d := p.Evaluate(CauseAuthFailure, &c)
	assert.False(t, d.Reconnect)
	assert.False(t, d.ClearSession)
	assert.True(t, d.LimitExceeded)
	assert.Equal(t, 4, c.AuthFailures)
}

func TestEvaluateStreamErrorClearsOnSixth(t *testing.T) {
	p := DefaultPolicy()
	var c Counters

	for i := 1; i <= 5; i++ {
		d := p.Evaluate(CauseStreamError, &c)
		assert.True(t, d.Reconnect)
		assert.False(t, d.ClearSession, "attempt %d", i)
		assert.Equal(t, 15*time.Second, d.Delay)
	}

	d := p.Evaluate(CauseStreamError, &c)
	assert.True(t, d.Reconnect)
	assert.True(t, d.ClearSession)
	assert.True(t, d.LimitExceeded)
	assert.Equal(t, 0, c.StreamErrors)
}

func TestEvaluateRecoverableResetsCounters(t *testing.T) {
	p := DefaultPolicy()
	c := Counters{AuthFailures: 2, StreamErrors: 4}

	d := p.Evaluate(CauseRecoverable, &c)
	assert.True(t, d.Reconnect)
	assert.False(t, d.ClearSession)
	assert.Equal(t, 5*time.Second, d.Delay)
	assert.Zero(t, c.AuthFailures)
	assert.Zero(t, c.StreamErrors)
}

func TestEvaluateTerminal(t *testing.T) {
	p := DefaultPolicy()
	for _, cause := range []Cause{CauseLoggedOut, CauseFatal} {
		c := Counters{AuthFailures: 1}
		d := p.Evaluate(cause, &c)
		assert.False(t, d.Reconnect, cause.String())
		assert.False(t, d.ClearSession, cause.String())
		assert.Equal(t, 1, c.AuthFailures, "terminal causes leave counters alone")
	}
}
