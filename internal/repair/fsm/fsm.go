package fsm

// Status is the lifecycle state of a repair request.
type Status string

// Request statuses.
const (
	StatusNew                         Status = "NEW"
	StatusSentToSC                    Status = "SENT_TO_SC"
	StatusAssignedToSC                Status = "ASSIGNED_TO_SC"
	StatusPendingPriceNegotiation     Status = "PENDING_PRICE_NEGOTIATION"
	StatusPriceNegotiation            Status = "PRICE_NEGOTIATION"
	StatusPriceApproved               Status = "PRICE_APPROVED"
	StatusAwaitingDeliveryDate        Status = "AWAITING_DELIVERY_DATE"
	StatusCourierEnRouteToClient      Status = "COURIER_EN_ROUTE_TO_CLIENT"
	StatusAwaitingClientPickupConfirm Status = "AWAITING_CLIENT_PICKUP_CONFIRM"
	StatusCourierEnRouteToSC          Status = "COURIER_EN_ROUTE_TO_SC"
	StatusInSC                        Status = "IN_SC"
	StatusRepairPriced                Status = "REPAIR_PRICED"
	StatusAwaitingFinalPriceApproval  Status = "AWAITING_FINAL_PRICE_APPROVAL"
	StatusFinalPriceNegotiation       Status = "FINAL_PRICE_NEGOTIATION"
	StatusAwaitingReturnDelivery      Status = "AWAITING_RETURN_DELIVERY"
	StatusCourierReturnEnRoute        Status = "COURIER_RETURN_EN_ROUTE"
	StatusAwaitingFinalConfirm        Status = "AWAITING_FINAL_CONFIRM"
	StatusAwaitingFinalPayment        Status = "AWAITING_FINAL_PAYMENT"
	StatusNeedsAdminReview            Status = "NEEDS_ADMIN_REVIEW"
	StatusDelivered                   Status = "DELIVERED"
	StatusRejected                    Status = "REJECTED"
)

var labels = map[Status]string{
	StatusNew:                         "Новая",
	StatusSentToSC:                    "Отправлена в СЦ",
	StatusAssignedToSC:                "Принята СЦ",
	StatusPendingPriceNegotiation:     "Ожидает согласования цены",
	StatusPriceNegotiation:            "Обсуждение цены",
	StatusPriceApproved:               "Цена согласована",
	StatusAwaitingDeliveryDate:        "Ожидает курьера",
	StatusCourierEnRouteToClient:      "Курьер едет к клиенту",
	StatusAwaitingClientPickupConfirm: "Ожидает подтверждения передачи",
	StatusCourierEnRouteToSC:          "Курьер везёт в СЦ",
	StatusInSC:                        "В сервисном центре",
	StatusRepairPriced:                "В ремонте",
	StatusAwaitingFinalPriceApproval:  "Ожидает согласования итоговой цены",
	StatusFinalPriceNegotiation:       "Обсуждение итоговой цены",
	StatusAwaitingReturnDelivery:      "Ожидает доставки клиенту",
	StatusCourierReturnEnRoute:        "Курьер везёт клиенту",
	StatusAwaitingFinalConfirm:        "Ожидает подтверждения получения",
	StatusAwaitingFinalPayment:        "Ожидает оплаты",
	StatusNeedsAdminReview:            "Требует проверки администратором",
	StatusDelivered:                   "Доставлено",
	StatusRejected:                    "Отклонена",
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	_, ok := labels[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusRejected
}

// Label returns the human readable status name shown to users.
func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

// Statuses returns every known status.
func Statuses() []Status {
	out := make([]Status, 0, len(labels))
	for s := range labels {
		out = append(out, s)
	}
	return out
}

// Event is a named trigger applied to a request.
type Event string

// Lifecycle events.
const (
	EventAdminSendToSC          Event = "admin_send_to_sc"
	EventSCAccept               Event = "sc_accept"
	EventSCReject               Event = "sc_reject"
	EventSCSetPrice             Event = "sc_set_price"
	EventClientApprovePrice     Event = "client_approve_price"
	EventClientRejectPrice      Event = "client_reject_price"
	EventCourierAcceptPickup    Event = "courier_accept_pickup"
	EventClientConfirmReceipt   Event = "client_confirm_receipt"
	EventClientDenyReceipt      Event = "client_deny_receipt"
	EventCourierConfirmHandoff  Event = "courier_confirm_handoff"
	EventCodeVerified           Event = "code_verified"
	EventCodeMismatch           Event = "code_mismatch"
	EventSCAcceptItem           Event = "sc_accept_item"
	EventSCRejectItem           Event = "sc_reject_item"
	EventSCSetFinalPrice        Event = "sc_set_final_price"
	EventClientApproveFinal     Event = "client_approve_final_price"
	EventClientRejectFinal      Event = "client_reject_final_price"
	EventPaymentConfirmed       Event = "payment_confirmed"
	EventPaymentFailed          Event = "payment_failed"
	EventCourierDeliverToClient Event = "courier_deliver_to_client"
	EventAdminReject            Event = "admin_reject"
	EventAdminResume            Event = "admin_resume"
	EventAdminCreateDelivery    Event = "admin_create_delivery"
)

// Internal reports whether e is raised by the bot itself after a code check
// or a payment gateway answer. Such events never come from a button.
func (e Event) Internal() bool {
	switch e {
	case EventCodeVerified, EventCodeMismatch, EventPaymentConfirmed, EventPaymentFailed:
		return true
	}
	return false
}

// Role identifies who triggers an event.
type Role string

const (
	RoleClient   Role = "client"
	RoleAdmin    Role = "admin"
	RoleSC       Role = "sc"
	RoleDelivery Role = "delivery"
	RoleSystem   Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleAdmin, RoleSC, RoleDelivery, RoleSystem:
		return true
	}
	return false
}

// Rule describes one permitted transition.
type Rule struct {
	Next Status `json:"next"`
	// Alternatives are other targets the engine may pick for the same event
	// depending on request data (deny counter, amount due, review origin).
	Alternatives []Status `json:"alternatives,omitempty"`
	Actors       []Role   `json:"actors"`
}

// Permits reports whether next is an allowed target of the rule.
func (r Rule) Permits(next Status) bool {
	if next == r.Next {
		return true
	}
	for _, alt := range r.Alternatives {
		if alt == next {
			return true
		}
	}
	return false
}

// AllowsActor reports whether role may trigger the rule.
func (r Rule) AllowsActor(role Role) bool {
	for _, a := range r.Actors {
		if a == role {
			return true
		}
	}
	return false
}

func rule(next Status, actors ...Role) Rule {
	return Rule{Next: next, Actors: actors}
}

func ruleAlt(next Status, alts []Status, actors ...Role) Rule {
	return Rule{Next: next, Alternatives: alts, Actors: actors}
}

var transitions = map[Status]map[Event]Rule{
	StatusNew: {
		EventAdminSendToSC: rule(StatusSentToSC, RoleAdmin),
	},
	StatusSentToSC: {
		EventSCAccept: rule(StatusAssignedToSC, RoleSC),
		EventSCReject: rule(StatusNew, RoleSC),
	},
	StatusAssignedToSC: {
		EventSCSetPrice: rule(StatusPendingPriceNegotiation, RoleSC),
	},
	StatusPendingPriceNegotiation: {
		EventClientApprovePrice: rule(StatusPriceApproved, RoleClient),
		EventClientRejectPrice:  rule(StatusPriceNegotiation, RoleClient),
	},
	StatusPriceNegotiation: {
		EventSCSetPrice: rule(StatusPendingPriceNegotiation, RoleSC),
	},
	StatusPriceApproved: {
		EventAdminCreateDelivery: rule(StatusAwaitingDeliveryDate, RoleAdmin, RoleSystem),
	},
	StatusAwaitingDeliveryDate: {
		EventCourierAcceptPickup: rule(StatusCourierEnRouteToClient, RoleDelivery),
	},
	StatusCourierEnRouteToClient: {
		EventCourierConfirmHandoff: rule(StatusAwaitingClientPickupConfirm, RoleDelivery),
	},
	StatusAwaitingClientPickupConfirm: {
		EventClientConfirmReceipt: rule(StatusCourierEnRouteToSC, RoleClient),
		EventClientDenyReceipt:    ruleAlt(StatusNeedsAdminReview, []Status{StatusRejected}, RoleClient),
	},
	StatusNeedsAdminReview: {
		EventAdminResume:       ruleAlt(StatusAwaitingClientPickupConfirm, []Status{StatusAwaitingFinalConfirm}, RoleAdmin),
		EventClientDenyReceipt: ruleAlt(StatusRejected, []Status{StatusNeedsAdminReview}, RoleClient),
	},
	StatusCourierEnRouteToSC: {
		EventCodeVerified: rule(StatusInSC, RoleSC),
		EventCodeMismatch: rule(StatusCourierEnRouteToSC, RoleSC),
	},
	StatusInSC: {
		EventSCAcceptItem: rule(StatusRepairPriced, RoleSC),
		EventSCRejectItem: rule(StatusAwaitingReturnDelivery, RoleSC),
	},
	StatusRepairPriced: {
		EventSCSetFinalPrice: rule(StatusAwaitingFinalPriceApproval, RoleSC),
	},
	StatusAwaitingFinalPriceApproval: {
		EventClientApproveFinal: rule(StatusAwaitingReturnDelivery, RoleClient),
		EventClientRejectFinal:  rule(StatusFinalPriceNegotiation, RoleClient),
	},
	StatusFinalPriceNegotiation: {
		EventSCSetFinalPrice: rule(StatusAwaitingFinalPriceApproval, RoleSC),
		EventSCRejectItem:    rule(StatusAwaitingReturnDelivery, RoleSC),
	},
	StatusAwaitingReturnDelivery: {
		EventAdminCreateDelivery: rule(StatusAwaitingReturnDelivery, RoleAdmin, RoleSystem),
		EventCourierAcceptPickup: rule(StatusCourierReturnEnRoute, RoleDelivery),
	},
	StatusCourierReturnEnRoute: {
		EventCourierDeliverToClient: rule(StatusAwaitingFinalConfirm, RoleDelivery),
	},
	StatusAwaitingFinalConfirm: {
		EventCodeVerified:      ruleAlt(StatusAwaitingFinalPayment, []Status{StatusDelivered}, RoleDelivery),
		EventCodeMismatch:      rule(StatusAwaitingFinalConfirm, RoleDelivery),
		EventClientDenyReceipt: ruleAlt(StatusNeedsAdminReview, []Status{StatusRejected}, RoleClient),
	},
	StatusAwaitingFinalPayment: {
		EventPaymentConfirmed: rule(StatusDelivered, RoleSystem),
		EventPaymentFailed:    rule(StatusAwaitingFinalPayment, RoleSystem),
	},
	StatusDelivered: {},
	StatusRejected:  {},
}

// Admin rejection is allowed while the device has not reached the service center.
var adminRejectable = []Status{
	StatusNew,
	StatusSentToSC,
	StatusAssignedToSC,
	StatusPendingPriceNegotiation,
	StatusPriceNegotiation,
	StatusPriceApproved,
	StatusAwaitingDeliveryDate,
	StatusCourierEnRouteToClient,
	StatusAwaitingClientPickupConfirm,
	StatusNeedsAdminReview,
}

func init() {
	for _, s := range adminRejectable {
		transitions[s][EventAdminReject] = rule(StatusRejected, RoleAdmin)
	}
}

// Lookup returns the rule for ev in status from.
func Lookup(from Status, ev Event) (Rule, bool) {
	events, ok := transitions[from]
	if !ok {
		return Rule{}, false
	}
	r, ok := events[ev]
	return r, ok
}

// CanTransition returns whether role may apply ev while the request is in from.
func CanTransition(from Status, ev Event, role Role) bool {
	r, ok := Lookup(from, ev)
	if !ok {
		return false
	}
	return r.AllowsActor(role)
}

// Allowed lists events accepted in status from.
func Allowed(from Status) []Event {
	events := transitions[from]
	out := make([]Event, 0, len(events))
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// Table returns a copy of the transition table.
func Table() map[Status]map[Event]Rule {
	out := make(map[Status]map[Event]Rule, len(transitions))
	for from, events := range transitions {
		inner := make(map[Event]Rule, len(events))
		for ev, r := range events {
			inner[ev] = r
		}
		out[from] = inner
	}
	return out
}
