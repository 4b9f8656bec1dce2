package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending activates", StatusPending, StatusActive, true},
		{"active suspends", StatusActive, StatusSuspended, true},
		{"suspended reactivates", StatusSuspended, StatusActive, true},
		{"active closes", StatusActive, StatusClosed, true},
		{"suspended closes", StatusSuspended, StatusClosed, true},
		{"pending cannot suspend", StatusPending, StatusSuspended, false},
		{"pending cannot close", StatusPending, StatusClosed, false},
		{"closed is terminal", StatusClosed, StatusActive, false},
		{"closed cannot reopen as pending", StatusClosed, StatusPending, false},
		{"no self transition", StatusActive, StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusActive, StatusSuspended, StatusClosed} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("frozen").Valid())
	assert.False(t, Status("").Valid())
}
