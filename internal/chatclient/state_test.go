package chatclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from   state
		o      outcome
		budget int
		want   state
	}{
		{stateAttempting, outcomeAccepted, 1, stateSucceeded},
		{stateAttempting, outcomeAccepted, 0, stateSucceeded},
		{stateAttempting, outcomeTimeout, 1, stateRetrying},
		{stateAttempting, outcomeUnavailable, 1, stateRetrying},
		{stateAttempting, outcomeTimeout, 0, stateFailed},
		{stateAttempting, outcomeUnavailable, 0, stateFailed},
		{stateAttempting, outcomeFatal, 1, stateFailed},
		{stateRetrying, outcomeBackoffDone, 0, stateAttempting},
		{stateRetrying, outcomeFatal, 0, stateFailed},
		{stateSucceeded, outcomeTimeout, 1, stateSucceeded},
		{stateFailed, outcomeAccepted, 1, stateFailed},
	}
	for _, c := range cases {
		require.Equal(t, c.want, transition(c.from, c.o, c.budget), "%s + %d (budget %d)", c.from, c.o, c.budget)
	}
}
