package agent

import "fmt"

// EntryState is the negotiation lifecycle of one connection entry.
type EntryState int

const (
	StateNew EntryState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswerSent
	StateAnswerReceived
	StateConnected
	StateFailed
	StateClosed
)

var stateNames = map[EntryState]string{
	StateNew:            "NEW",
	StateOfferSent:      "OFFER_SENT",
	StateOfferReceived:  "OFFER_RECEIVED",
	StateAnswerSent:     "ANSWER_SENT",
	StateAnswerReceived: "ANSWER_RECEIVED",
	StateConnected:      "CONNECTED",
	StateFailed:         "FAILED",
	StateClosed:         "CLOSED",
}

func (s EntryState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("EntryState(%d)", int(s))
}

func (s EntryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EntryState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown entry state %q", text)
}

// CanTransition reports whether s -> to is an edge of the lifecycle. CLOSED is terminal.
func (s EntryState) CanTransition(to EntryState) bool {
	if s == StateClosed {
		return false
	}
	switch to {
	case StateClosed:
		return true
	case StateFailed:
		return s != StateFailed
	case StateOfferSent, StateOfferReceived:
		return s == StateNew
	case StateAnswerSent:
		return s == StateOfferReceived
	case StateAnswerReceived:
		return s == StateOfferSent
	case StateConnected:
		return s == StateAnswerSent || s == StateAnswerReceived
	}
	return false
}

func (s EntryState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// negotiating is true while an offer is out and the answer has not been applied.
func (s EntryState) negotiating() bool {
	return s == StateOfferSent || s == StateOfferReceived
}
