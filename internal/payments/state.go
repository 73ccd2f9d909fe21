package payments

import (
	"fmt"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// Trigger is an event that can move a payment order between states.
type Trigger string

const (
	TriggerRedirectIssued Trigger = "redirect_issued"
	TriggerSuccess        Trigger = "success"
	TriggerFailure        Trigger = "failure"
	TriggerWindowElapsed  Trigger = "window_elapsed"
	TriggerForceExpire    Trigger = "force_expire"
	TriggerRefund         Trigger = "refund"
)

type edge struct {
	from    enums.PaymentOrderStatus
	trigger Trigger
}

var transitions = map[edge]enums.PaymentOrderStatus{
	{enums.PaymentOrderCreated, TriggerRedirectIssued}: enums.PaymentOrderPending,
	{enums.PaymentOrderCreated, TriggerSuccess}:        enums.PaymentOrderPaid,
	{enums.PaymentOrderPending, TriggerSuccess}:        enums.PaymentOrderPaid,
	{enums.PaymentOrderCreated, TriggerFailure}:        enums.PaymentOrderFailed,
	{enums.PaymentOrderPending, TriggerFailure}:        enums.PaymentOrderFailed,
	{enums.PaymentOrderCreated, TriggerWindowElapsed}:  enums.PaymentOrderExpired,
	{enums.PaymentOrderPending, TriggerForceExpire}:    enums.PaymentOrderExpired,
	{enums.PaymentOrderPaid, TriggerRefund}:            enums.PaymentOrderRefunded,
}

// Next returns the state reached from `from` on `trigger`, or a StateError.
func Next(from enums.PaymentOrderStatus, trigger Trigger) (enums.PaymentOrderStatus, error) {
	if to, ok := transitions[edge{from, trigger}]; ok {
		return to, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot apply %s to a %s order", trigger, from)).
		WithReason(pkgerrors.ReasonIllegalTransition).
		WithDetails(map[string]any{"status": from, "trigger": trigger})
}

// SourcesFor lists the states from which trigger is legal. Repository writes
// use it as the compare-and-set guard.
func SourcesFor(trigger Trigger) []enums.PaymentOrderStatus {
	var sources []enums.PaymentOrderStatus
	for _, from := range []enums.PaymentOrderStatus{
		enums.PaymentOrderCreated,
		enums.PaymentOrderPending,
		enums.PaymentOrderPaid,
		enums.PaymentOrderFailed,
		enums.PaymentOrderExpired,
		enums.PaymentOrderRefunded,
	} {
		if _, ok := transitions[edge{from, trigger}]; ok {
			sources = append(sources, from)
		}
	}
	return sources
}

// TriggerForOutcome maps a gateway outcome onto the state machine.
func TriggerForOutcome(outcome enums.CallbackOutcome) (Trigger, error) {
	switch outcome {
	case enums.CallbackOutcomeSuccess:
		return TriggerSuccess, nil
	case enums.CallbackOutcomeFailure:
		return TriggerFailure, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown gateway outcome %q", outcome))
	}
}

// StatusForOutcome is the terminal state an outcome leads to.
func StatusForOutcome(outcome enums.CallbackOutcome) enums.PaymentOrderStatus {
	if outcome == enums.CallbackOutcomeSuccess {
		return enums.PaymentOrderPaid
	}
	return enums.PaymentOrderFailed
}
