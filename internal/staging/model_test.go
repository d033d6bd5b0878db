package staging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from DocumentStatus
		to   DocumentStatus
		want bool
	}{
		{"pending to validated", StatusPending, StatusValidated, true},
		{"validated to submitted", StatusValidated, StatusSubmitted, true},
		{"validated to rejected", StatusValidated, StatusRejected, true},
		{"submitted to valid", StatusSubmitted, StatusValid, true},
		{"submitted to invalid", StatusSubmitted, StatusInvalid, true},
		{"submitted to rejected", StatusSubmitted, StatusRejected, true},
		{"valid to cancelled", StatusValid, StatusCancelled, true},

		{"pending skips validation", StatusPending, StatusSubmitted, false},
		{"pending cannot fail locally into invalid", StatusPending, StatusInvalid, false},
		{"no backward edge", StatusSubmitted, StatusValidated, false},
		{"rejected is terminal", StatusRejected, StatusSubmitted, false},
		{"invalid is terminal", StatusInvalid, StatusSubmitted, false},
		{"cancelled is terminal", StatusCancelled, StatusValid, false},
		{"valid cannot be resubmitted in place", StatusValid, StatusSubmitted, false},
		{"self transition", StatusSubmitted, StatusSubmitted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusInvalid))
	assert.True(t, IsTerminal(StatusRejected))
	assert.True(t, IsTerminal(StatusCancelled))

	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusValidated))
	assert.False(t, IsTerminal(StatusSubmitted))
	// Valid still admits cancellation, so it is not terminal.
	assert.False(t, IsTerminal(StatusValid))
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	all := []DocumentStatus{
		StatusPending, StatusValidated, StatusSubmitted,
		StatusValid, StatusInvalid, StatusRejected, StatusCancelled,
	}
	for _, from := range all {
		if !IsTerminal(from) {
			continue
		}
		for _, to := range all {
			assert.Falsef(t, CanTransition(from, to), "terminal %s must not reach %s", from, to)
		}
	}
}
