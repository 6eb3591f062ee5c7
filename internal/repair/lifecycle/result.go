package lifecycle

import (
	"github.com/shopspring/decimal"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/store"
)

// Actor is whoever triggers an event.
type Actor struct {
	ID   int64    `json:"id"`
	Role fsm.Role `json:"role"`
	// SCID is the service center of an SC staff member.
	SCID int64 `json:"sc_id,omitempty"`
}

// SystemActor is used for transitions the bot performs on its own.
var SystemActor = Actor{Role: fsm.RoleSystem}

// Command asks the engine to apply one event.
type Command struct {
	RequestID int64
	Event     fsm.Event
	Actor     Actor
	// Version is the request version the button was issued for. Zero skips the check.
	Version int
	// SCID selects the service center for admin_send_to_sc.
	SCID int64
	// Amount carries the price for sc_set_price and sc_set_final_price.
	Amount decimal.Decimal
	// Note is free text such as the agreed pickup time.
	Note string
	// GatewayState is the raw order state reported with payment_failed.
	GatewayState string

	code     string
	codeFlow bool
}

// EffectKind names a side effect the workflow has to perform after commit.
type EffectKind string

const (
	EffectIssueCode          EffectKind = "issue_code"
	EffectCreateTask         EffectKind = "create_task"
	EffectManualDelivery     EffectKind = "manual_delivery"
	EffectCreateFinalPayment EffectKind = "create_final_payment"
	EffectOpenChat           EffectKind = "open_chat"
	EffectCloseChat          EffectKind = "close_chat"
	EffectCodeMismatch       EffectKind = "code_mismatch"
	EffectEscalate           EffectKind = "escalate"
	EffectTasksCancelled     EffectKind = "tasks_cancelled"
)

// Effect is a post-commit action derived from a transition.
type Effect struct {
	Kind        EffectKind           `json:"kind"`
	Purpose     store.HandoffPurpose `json:"purpose,omitempty"`
	RecipientID int64                `json:"recipient_id,omitempty"`
	Delivery    store.DeliveryType   `json:"delivery,omitempty"`
	Remaining   int                  `json:"remaining,omitempty"`
}

// Result describes a committed transition.
type Result struct {
	Request store.Request       `json:"request"`
	Task    *store.DeliveryTask `json:"task,omitempty"`
	From    fsm.Status          `json:"from"`
	To      fsm.Status          `json:"to"`
	Event   fsm.Event           `json:"event"`
	Actor   Actor               `json:"actor"`
	Effects []Effect            `json:"effects,omitempty"`
}

// Effect returns the first effect of the given kind.
func (r Result) Effect(kind EffectKind) (Effect, bool) {
	for _, e := range r.Effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return Effect{}, false
}

// Has reports whether an effect of kind was produced.
func (r Result) Has(kind EffectKind) bool {
	_, ok := r.Effect(kind)
	return ok
}

// StatusChanged reports whether the request left its previous status.
func (r Result) StatusChanged() bool {
	return r.From != r.To
}
