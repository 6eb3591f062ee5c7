package lifecycle

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/pricing"
	"repairBack/internal/repair/store"
)

type mutator func(ac *applyCtx) error

var mutators map[fsm.Event]mutator

func init() {
	mutators = map[fsm.Event]mutator{
		fsm.EventAdminSendToSC:          sendToSC,
		fsm.EventSCReject:               scReject,
		fsm.EventSCSetPrice:             setPrice,
		fsm.EventClientApprovePrice:     approvePrice,
		fsm.EventClientRejectPrice:      openNegotiation,
		fsm.EventAdminCreateDelivery:    createDelivery,
		fsm.EventCourierAcceptPickup:    acceptPickup,
		fsm.EventClientConfirmReceipt:   confirmReceipt,
		fsm.EventClientDenyReceipt:      denyReceipt,
		fsm.EventAdminResume:            resumeReview,
		fsm.EventCodeVerified:           codeVerified,
		fsm.EventCodeMismatch:           codeMismatch,
		fsm.EventSCRejectItem:           rejectItem,
		fsm.EventSCSetFinalPrice:        setFinalPrice,
		fsm.EventClientApproveFinal:     approveFinalPrice,
		fsm.EventClientRejectFinal:      openNegotiation,
		fsm.EventCourierDeliverToClient: deliverToClient,
		fsm.EventPaymentConfirmed:       paymentConfirmed,
		fsm.EventPaymentFailed:          paymentFailed,
	}
}

func sendToSC(ac *applyCtx) error {
	if ac.cmd.SCID == 0 {
		return fmt.Errorf("%w: service center is required", ErrInvalidTransition)
	}
	if ac.e.centers != nil {
		if _, err := ac.e.centers.Get(ac.cmd.SCID); err != nil {
			return fmt.Errorf("%w: service center %d not found", ErrInvalidTransition, ac.cmd.SCID)
		}
	}
	id := ac.cmd.SCID
	ac.req.AssignedSC = &id
	return nil
}

func scReject(ac *applyCtx) error {
	ac.req.AssignedSC = nil
	return nil
}

func setPrice(ac *applyCtx) error {
	if !ac.cmd.Amount.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidTransition)
	}
	ac.req.RepairPrice = ac.cmd.Amount.Round(2)
	// The delivery cost is frozen once a payment order references it.
	if ac.req.PaymentOrderID == "" {
		ac.req.DeliveryCost = ac.e.cfg.Tariff.DeliveryCost(ac.req.RepairPrice)
	}
	if ac.from == fsm.StatusPriceNegotiation {
		ac.effect(Effect{Kind: EffectCloseChat})
	}
	return nil
}

func approvePrice(ac *applyCtx) error {
	ac.effect(Effect{Kind: EffectCreateTask, Delivery: store.DeliveryToSC})
	return nil
}

func openNegotiation(ac *applyCtx) error {
	ac.effect(Effect{Kind: EffectOpenChat})
	return nil
}

func createDelivery(ac *applyCtx) error {
	typ := store.DeliveryToSC
	if ac.from == fsm.StatusAwaitingReturnDelivery {
		typ = store.DeliveryToClient
	}
	if t := ac.openTask(typ); t != nil {
		return fmt.Errorf("%w: task %d already covers this leg", ErrInvalidTransition, t.ID)
	}

	scAddress := ""
	if ac.e.centers != nil && ac.req.AssignedSC != nil {
		if sc, err := ac.e.centers.Get(*ac.req.AssignedSC); err == nil {
			scAddress = sc.Address
		}
	}
	task := store.DeliveryTask{
		RequestID: ac.req.ID,
		Type:      typ,
		Status:    fsm.TaskAvailable,
		CreatedAt: ac.now,
		UpdatedAt: ac.now,
	}
	if typ == store.DeliveryToSC {
		task.PickupAddress = ac.req.Location.String()
		task.DropoffAddress = scAddress
	} else {
		task.PickupAddress = scAddress
		task.DropoffAddress = ac.req.Location.String()
	}
	ac.newTask = &task
	return nil
}

func acceptPickup(ac *applyCtx) error {
	typ := store.DeliveryToSC
	steps := []fsm.TaskStatus{fsm.TaskAssigned}
	if ac.from == fsm.StatusAwaitingReturnDelivery {
		typ = store.DeliveryToClient
		// On the return leg the courier collects the device at the SC right away.
		steps = append(steps, fsm.TaskInTransit)
	}
	t := ac.openTask(typ)
	if t == nil || t.Status != fsm.TaskAvailable {
		return fmt.Errorf("%w: no available delivery task for request %d", ErrInvalidTransition, ac.req.ID)
	}
	courier := ac.cmd.Actor.ID
	t.AssignedDeliveryID = &courier
	if ac.cmd.Note != "" {
		t.PickupNote = ac.cmd.Note
	}
	if err := ac.moveTask(t, steps...); err != nil {
		return err
	}
	ac.req.AssignedDelivery = &courier
	return nil
}

func confirmReceipt(ac *applyCtx) error {
	if t := ac.openTask(store.DeliveryToSC); t != nil {
		if err := ac.moveTask(t, fsm.TaskInTransit); err != nil {
			return err
		}
	}
	ac.effect(Effect{Kind: EffectIssueCode, Purpose: store.HandoffToSC, RecipientID: ac.req.CourierID()})
	return nil
}

func denyReceipt(ac *applyCtx) error {
	ac.req.DenyCount++
	if ac.req.DenyCount >= ac.e.cfg.DenyLimit {
		ac.next = fsm.StatusRejected
		return nil
	}
	ac.next = fsm.StatusNeedsAdminReview
	if ac.from != fsm.StatusNeedsAdminReview {
		ac.req.ReviewFrom = ac.from
	}
	// A repeated press of the same deny button must not count twice.
	ac.bump = true
	return nil
}

func resumeReview(ac *applyCtx) error {
	switch ac.req.ReviewFrom {
	case fsm.StatusAwaitingFinalConfirm:
		ac.next = fsm.StatusAwaitingFinalConfirm
	default:
		ac.next = fsm.StatusAwaitingClientPickupConfirm
	}
	ac.req.ReviewFrom = ""
	return nil
}

func codeVerified(ac *applyCtx) error {
	if ac.req.Handoff != nil {
		ac.req.UsedCodes = append(ac.req.UsedCodes, ac.req.Handoff.CodeHash)
	}
	ac.req.Handoff = nil
	ac.req.Escalated = false

	switch ac.from {
	case fsm.StatusCourierEnRouteToSC:
		if t := ac.openTask(store.DeliveryToSC); t != nil {
			if err := ac.moveTask(t, fsm.TaskCompleted); err != nil {
				return err
			}
		}
		ac.next = fsm.StatusInSC
	case fsm.StatusAwaitingFinalConfirm:
		if t := ac.openTask(store.DeliveryToClient); t != nil {
			if err := ac.moveTask(t, fsm.TaskCompleted); err != nil {
				return err
			}
		}
		due := pricing.AmountDue(ac.req.FinalPrice, ac.req.DeliveryCost, ac.req.DeliveryPaid)
		if due.IsPositive() {
			ac.next = fsm.StatusAwaitingFinalPayment
			ac.effect(Effect{Kind: EffectCreateFinalPayment})
		} else {
			ac.next = fsm.StatusDelivered
		}
	}
	return nil
}

func codeMismatch(ac *applyCtx) error {
	h := ac.req.Handoff
	if h == nil {
		return fmt.Errorf("%w: no active confirmation code", ErrInvalidTransition)
	}
	h.Attempts++
	remaining := ac.e.cfg.MaxCodeAttempts - h.Attempts
	if remaining <= 0 {
		ac.req.Handoff = nil
		ac.req.Escalated = true
		ac.effect(Effect{Kind: EffectEscalate, Purpose: h.Purpose})
		return nil
	}
	ac.effect(Effect{Kind: EffectCodeMismatch, Purpose: h.Purpose, Remaining: remaining})
	return nil
}

func rejectItem(ac *applyCtx) error {
	ac.req.FinalPrice = decimal.Zero
	if ac.from == fsm.StatusFinalPriceNegotiation {
		ac.effect(Effect{Kind: EffectCloseChat})
	}
	ac.effect(Effect{Kind: EffectCreateTask, Delivery: store.DeliveryToClient})
	return nil
}

func setFinalPrice(ac *applyCtx) error {
	if !ac.cmd.Amount.IsPositive() {
		return fmt.Errorf("%w: final price must be positive", ErrInvalidTransition)
	}
	ac.req.FinalPrice = ac.cmd.Amount.Round(2)
	if ac.from == fsm.StatusFinalPriceNegotiation {
		ac.effect(Effect{Kind: EffectCloseChat})
	}
	return nil
}

func approveFinalPrice(ac *applyCtx) error {
	ac.effect(Effect{Kind: EffectCreateTask, Delivery: store.DeliveryToClient})
	return nil
}

func deliverToClient(ac *applyCtx) error {
	ac.effect(Effect{Kind: EffectIssueCode, Purpose: store.HandoffToClient, RecipientID: ac.req.UserID})
	return nil
}

func paymentConfirmed(ac *applyCtx) error {
	due := pricing.AmountDue(ac.req.FinalPrice, ac.req.DeliveryCost, ac.req.DeliveryPaid)
	if ac.req.FinalPaymentOrderID == "" && due.IsPositive() {
		return fmt.Errorf("%w: request %d has no payment order", ErrInvalidTransition, ac.req.ID)
	}
	ac.req.FinalPaymentState = PaymentStatePaid
	return nil
}

// paymentFailed records the gateway state. The same state is applied once so
// a replayed notification does not notify the client again.
func paymentFailed(ac *applyCtx) error {
	state := NormalizePaymentState(ac.cmd.GatewayState)
	if state == "" {
		state = "failed"
	}
	if ac.req.FinalPaymentState == state {
		return fmt.Errorf("%w: request %d already recorded payment state %s", ErrInvalidTransition, ac.req.ID, state)
	}
	ac.req.FinalPaymentState = state
	return nil
}

// PaymentStatePaid is recorded once the final payment is confirmed.
const PaymentStatePaid = "paid"

// NormalizePaymentState folds a raw gateway state for comparison.
func NormalizePaymentState(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// reject cancels open tasks and revokes the active code.
func (ac *applyCtx) reject() {
	cancelled := false
	for i := range ac.tasks {
		t := &ac.tasks[i]
		if !t.Status.Open() {
			continue
		}
		if err := ac.moveTask(t, fsm.TaskCancelled); err == nil {
			cancelled = true
		}
	}
	if cancelled {
		ac.effect(Effect{Kind: EffectTasksCancelled})
	}
	ac.req.Handoff = nil
	ac.req.ReviewFrom = ""
	if ac.from == fsm.StatusPriceNegotiation {
		ac.effect(Effect{Kind: EffectCloseChat})
	}
}

func (ac *applyCtx) openTask(typ store.DeliveryType) *store.DeliveryTask {
	for i := range ac.tasks {
		if ac.tasks[i].Type == typ && ac.tasks[i].Status.Open() {
			return &ac.tasks[i]
		}
	}
	return nil
}

func (ac *applyCtx) moveTask(t *store.DeliveryTask, steps ...fsm.TaskStatus) error {
	for _, next := range steps {
		if !fsm.CanTransitionTask(t.Status, next) {
			return fmt.Errorf("%w: task %d cannot move from %s to %s", ErrInvalidTransition, t.ID, t.Status, next)
		}
		t.Status = next
	}
	t.UpdatedAt = ac.now
	ac.changed[t.ID] = true
	ac.touched = t
	return nil
}
