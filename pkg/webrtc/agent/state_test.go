package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to EntryState
		want     bool
	}{
		{StateNew, StateOfferSent, true},
		{StateNew, StateOfferReceived, true},
		{StateNew, StateAnswerSent, false},
		{StateOfferReceived, StateAnswerSent, true},
		{StateOfferReceived, StateAnswerReceived, false},
		{StateOfferSent, StateAnswerReceived, true},
		{StateOfferSent, StateConnected, false},
		{StateAnswerSent, StateConnected, true},
		{StateAnswerReceived, StateConnected, true},
		{StateConnected, StateFailed, true},
		{StateNew, StateFailed, true},
		{StateFailed, StateFailed, false},
		{StateFailed, StateClosed, true},
		{StateConnected, StateClosed, true},
		{StateClosed, StateClosed, false},
		{StateClosed, StateFailed, false},
		{StateClosed, StateNew, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestEntryState_String(t *testing.T) {
	assert.Equal(t, "ANSWER_RECEIVED", StateAnswerReceived.String())
	assert.Equal(t, "EntryState(42)", EntryState(42).String())

	text, err := StateConnected.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "CONNECTED", string(text))

	var back EntryState
	assert.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, StateConnected, back)
	assert.Error(t, back.UnmarshalText([]byte("DANCING")))
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateConnected.Terminal())
}
