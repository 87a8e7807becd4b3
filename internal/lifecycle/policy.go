package lifecycle

import (
	"time"

	"github.com/nous-labs/vacancy-bridge/pkg/channel"
)

// Cause classifies why a transport session closed.
type Cause int

const (
	CauseRecoverable Cause = iota // transient drop, session itself healthy
	CauseLoggedOut                // account unlinked, terminal
	CauseAuthFailure              // credential set rejected
	CauseStreamError              // protocol-level stream error
	CauseFatal                    // not recoverable, not a logout
)

func (c Cause) String() string {
	switch c {
	case CauseLoggedOut:
		return "logged_out"
	case CauseAuthFailure:
		return "auth_failure"
	case CauseStreamError:
		return "stream_error"
	case CauseFatal:
		return "fatal"
	default:
		return "recoverable"
	}
}

// Status codes with a dedicated policy.
const (
	CodeUnauthorized   = 401
	CodeTempBanned     = 402
	CodeForbidden      = 403
	CodeClientOutdated = 405
	CodeMultideviceBad = 411
	CodeStreamRestart  = 515
)

// Classify maps a close status onto a Cause.
func Classify(u channel.StatusUpdate) Cause {
	if u.LoggedOut {
		return CauseLoggedOut
	}
	switch u.Code {
	case CodeUnauthorized, CodeForbidden, CodeClientOutdated:
		return CauseAuthFailure
	case CodeStreamRestart:
		return CauseStreamError
	case CodeTempBanned, CodeMultideviceBad:
		return CauseFatal
	}
	return CauseRecoverable
}

// CounterKey selects which counter a rule increments.
type CounterKey int

const (
	CounterNone CounterKey = iota
	CounterAuth
	CounterStream
)

// Escalation is what happens once a rule's counter exceeds its limit.
type Escalation int

const (
	// EscalateStop stops reconnecting; an operator must reset the session.
	EscalateStop Escalation = iota
	// EscalateClear clears the credentials, zeroes the counter and reconnects.
	EscalateClear
)

// Rule is one row of the disconnect policy.
type Rule struct {
	Terminal      bool // stop, never reconnect
	ClearSession  bool // clear credentials before reconnecting
	ResetCounters bool // zero both failure counters
	Counter       CounterKey
	Limit         int // 0 = unlimited
	OnLimit       Escalation
	Backoff       time.Duration
}

// Policy is the disconnect policy table.
type Policy map[Cause]Rule

// DefaultPolicy returns the production disconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		CauseLoggedOut: {Terminal: true},
		CauseAuthFailure: {
			ClearSession: true,
			Counter:      CounterAuth,
			Limit:        3,
			OnLimit:      EscalateStop,
			Backoff:      5 * time.Second,
		},
		CauseStreamError: {
			Counter: CounterStream,
			Limit:   5,
			OnLimit: EscalateClear,
			Backoff: 15 * time.Second,
		},
		CauseRecoverable: {
			ResetCounters: true,
			Backoff:       5 * time.Second,
		},
		CauseFatal: {Terminal: true},
	}
}

// Counters are the per-cause failure counters plus the in-flight guard.
type Counters struct {
	AuthFailures  int
	StreamErrors  int
	SetupFailures int
	// InFlight is true from scheduling a connect until it settles.
	InFlight bool
}

func (c *Counters) bump(k CounterKey) int {
	switch k {
	case CounterAuth:
		c.AuthFailures++
		return c.AuthFailures
	case CounterStream:
		c.StreamErrors++
		return c.StreamErrors
	}
	return 0
}

func (c *Counters) zero(k CounterKey) {
	switch k {
	case CounterAuth:
		c.AuthFailures = 0
	case CounterStream:
		c.StreamErrors = 0
	}
}

// Decision is the outcome of evaluating the policy for one disconnect.
type Decision struct {
	Cause        Cause
	Reconnect    bool
	ClearSession bool
	Delay        time.Duration
	// LimitExceeded is set when a counter passed its limit.
	LimitExceeded bool
}

// Evaluate applies the rule for cause to c, updating the counters, and
// returns what the manager must do. It does not touch the in-flight guard.
func (p Policy) Evaluate(cause Cause, c *Counters) Decision {
	rule, ok := p[cause]
	if !ok {
		rule = p[CauseRecoverable]
	}

	d := Decision{Cause: cause}
	if rule.Terminal {
		return d
	}
	if rule.ResetCounters {
		c.AuthFailures, c.StreamErrors = 0, 0
	}
	d.ClearSession = rule.ClearSession

	if n := c.bump(rule.Counter); rule.Limit > 0 && n > rule.Limit {
		d.LimitExceeded = true
		switch rule.OnLimit {
		case EscalateStop:
			d.ClearSession = false
			return d
		case EscalateClear:
			d.ClearSession = true
			c.zero(rule.Counter)
		}
	}

	d.Reconnect = true
	d.Delay = rule.Backoff
	return d
}
