package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from    InvoiceState
		ev      InvoiceEvent
		to      InvoiceState
		changed bool
	}{
		{StateUnconfirmed, EventConfirm, StateConfirmed, true},
		{StateConfirmed, EventConfirm, StateConfirmed, false},
		{StateConfirmed, EventUnconfirm, StateUnconfirmed, true},
		{StateUnconfirmed, EventUnconfirm, StateUnconfirmed, false},
	}
	for _, tc := range cases {
		to, changed, err := Transition(tc.from, tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.to, to, "%s/%s", tc.from, tc.ev)
		assert.Equal(t, tc.changed, changed, "%s/%s", tc.from, tc.ev)
	}

	_, _, err := Transition("archived", EventConfirm)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = Transition(StateConfirmed, "void")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInvoiceStatusStateNilSafe(t *testing.T) {
	var missing *InvoiceStatus
	assert.Equal(t, StateUnconfirmed, missing.State())
	assert.Equal(t, StateConfirmed, (&InvoiceStatus{Confirmed: true}).State())
}
