package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateShortCircuits(t *testing.T) {
	ran := false
	v := Evaluate(
		Require(true, ReasonNotConnected),
		Require(false, ReasonWindowClosed),
		Check{Pass: func() bool { ran = true; return false }, Reason: ReasonInsufficientBond},
	)

	assert.Equal(t, Deny(ReasonWindowClosed), v)
	assert.False(t, ran)
	assert.Equal(t, Allowed, Evaluate())
}

func TestGateError(t *testing.T) {
	m := ActionMap{ActionQueue: Deny(ReasonInvalidState), ActionExecute: Allowed}

	assert.NoError(t, m.Err(ActionExecute))

	err := errors.Wrap(m.Err(ActionQueue), "queue")
	g, ok := IsGateError(err)
	require.True(t, ok)
	assert.Equal(t, ActionQueue, g.Action)
	assert.Equal(t, ReasonInvalidState, g.Reason)

	g, ok = IsGateError(m.Err(ActionStake))
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidState, g.Reason)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "denied: NoTimeSource", Deny(ReasonNoTimeSource).String())
}
