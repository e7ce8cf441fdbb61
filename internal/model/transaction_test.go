package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from TransactionStatus
		to   TransactionStatus
		want bool
	}{
		{StatusInit, StatusLocked, true},
		{StatusLocked, StatusBackedUp, true},
		{StatusBackedUp, StatusWritten, true},
		{StatusWritten, StatusVerified, true},
		{StatusVerified, StatusCommitted, true},
		{StatusInit, StatusWritten, false},
		{StatusLocked, StatusCommitted, false},
		{StatusWritten, StatusRolledBack, true},
		{StatusInit, StatusFailed, true},
		{StatusCommitted, StatusRolledBack, false},
		{StatusFailed, StatusInit, false},
		{StatusRolledBack, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCommitted.IsTerminal())
	assert.True(t, StatusRolledBack.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusVerified.IsTerminal())
	assert.False(t, TransactionStatus("PENDING").Valid())
}
