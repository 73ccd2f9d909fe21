package enums

import "fmt"

// CallbackOutcome is the terminal result a gateway reports for an order.
type CallbackOutcome string

const (
	CallbackOutcomeSuccess CallbackOutcome = "success"
	CallbackOutcomeFailure CallbackOutcome = "failure"
)

func (o CallbackOutcome) String() string {
	return string(o)
}

func (o CallbackOutcome) IsValid() bool {
	return o == CallbackOutcomeSuccess || o == CallbackOutcomeFailure
}

// CallbackResult records what reconciliation did with an inbound outcome.
type CallbackResult string

const (
	CallbackResultApplied   CallbackResult = "applied"
	CallbackResultDuplicate CallbackResult = "duplicate"
	CallbackResultConflict  CallbackResult = "conflict"
	CallbackResultInvalid   CallbackResult = "invalid"
	CallbackResultNotFound  CallbackResult = "not_found"
	CallbackResultError     CallbackResult = "error"
)

var validCallbackResults = []CallbackResult{
	CallbackResultApplied,
	CallbackResultDuplicate,
	CallbackResultConflict,
	CallbackResultInvalid,
	CallbackResultNotFound,
	CallbackResultError,
}

func (r CallbackResult) String() string {
	return string(r)
}

func (r CallbackResult) IsValid() bool {
	for _, candidate := range validCallbackResults {
		if candidate == r {
			return true
		}
	}
	return false
}

// Flagged reports whether the result needs operator follow-up.
func (r CallbackResult) Flagged() bool {
	return r == CallbackResultConflict || r == CallbackResultNotFound || r == CallbackResultError
}

func ParseCallbackResult(value string) (CallbackResult, error) {
	for _, candidate := range validCallbackResults {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid callback result %q", value)
}

// CallbackSource distinguishes pushed callbacks from status polling.
type CallbackSource string

const (
	CallbackSourceWebhook CallbackSource = "webhook"
	CallbackSourcePoll    CallbackSource = "poll"
)
