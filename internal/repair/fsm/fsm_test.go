package fsm

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		ev   Event
		role Role
		want bool
	}{
		{"admin sends to sc", StatusNew, EventAdminSendToSC, RoleAdmin, true},
		{"client cannot send to sc", StatusNew, EventAdminSendToSC, RoleClient, false},
		{"sc accepts", StatusSentToSC, EventSCAccept, RoleSC, true},
		{"price only after acceptance", StatusSentToSC, EventSCSetPrice, RoleSC, false},
		{"client approves price", StatusPendingPriceNegotiation, EventClientApprovePrice, RoleClient, true},
		{"system creates delivery", StatusPriceApproved, EventAdminCreateDelivery, RoleSystem, true},
		{"courier cannot verify forward code", StatusCourierEnRouteToSC, EventCodeVerified, RoleDelivery, false},
		{"courier verifies return code", StatusAwaitingFinalConfirm, EventCodeVerified, RoleDelivery, true},
		{"admin rejects before sc", StatusSentToSC, EventAdminReject, RoleAdmin, true},
		{"gateway confirms payment", StatusAwaitingFinalPayment, EventPaymentConfirmed, RoleSystem, true},
		{"client cannot confirm payment", StatusAwaitingFinalPayment, EventPaymentConfirmed, RoleClient, false},
		{"client cannot report payment failure", StatusAwaitingFinalPayment, EventPaymentFailed, RoleClient, false},
		{"terminal delivered", StatusDelivered, EventPaymentConfirmed, RoleSystem, false},
		{"terminal rejected", StatusRejected, EventAdminResume, RoleAdmin, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.ev, tc.role); got != tc.want {
				t.Fatalf("CanTransition(%s, %s, %s) = %v, want %v", tc.from, tc.ev, tc.role, got, tc.want)
			}
		})
	}
}

func TestInternalEvents(t *testing.T) {
	internal := map[Event]bool{
		EventCodeVerified:     true,
		EventCodeMismatch:     true,
		EventPaymentConfirmed: true,
		EventPaymentFailed:    true,
	}
	for _, events := range Table() {
		for ev := range events {
			if ev.Internal() != internal[ev] {
				t.Fatalf("%s internal = %v", ev, ev.Internal())
			}
		}
	}
	for _, ev := range []Event{EventPaymentConfirmed, EventPaymentFailed} {
		r, ok := Lookup(StatusAwaitingFinalPayment, ev)
		if !ok {
			t.Fatalf("%s missing", ev)
		}
		if len(r.Actors) != 1 || r.Actors[0] != RoleSystem {
			t.Fatalf("%s actors %v", ev, r.Actors)
		}
	}
}

func TestTableIsClosed(t *testing.T) {
	table := Table()
	for _, s := range Statuses() {
		if _, ok := table[s]; !ok {
			t.Fatalf("status %s missing from table", s)
		}
	}
	for from, events := range table {
		if !from.Valid() {
			t.Fatalf("unknown status %s in table", from)
		}
		if from.Terminal() && len(events) != 0 {
			t.Fatalf("terminal status %s has transitions", from)
		}
		for ev, r := range events {
			if !r.Next.Valid() {
				t.Fatalf("%s/%s leads to unknown status %s", from, ev, r.Next)
			}
			for _, alt := range r.Alternatives {
				if !alt.Valid() {
					t.Fatalf("%s/%s has unknown alternative %s", from, ev, alt)
				}
			}
			if len(r.Actors) == 0 {
				t.Fatalf("%s/%s has no actors", from, ev)
			}
		}
	}
}

func TestDenyAlternatives(t *testing.T) {
	r, ok := Lookup(StatusAwaitingClientPickupConfirm, EventClientDenyReceipt)
	if !ok {
		t.Fatalf("deny not allowed")
	}
	if !r.Permits(StatusNeedsAdminReview) || !r.Permits(StatusRejected) || r.Permits(StatusDelivered) {
		t.Fatalf("unexpected permits for %+v", r)
	}
}

func TestTaskTransitions(t *testing.T) {
	if !CanTransitionTask(TaskAvailable, TaskAssigned) || !CanTransitionTask(TaskInTransit, TaskCompleted) {
		t.Fatalf("forward task moves must be allowed")
	}
	if CanTransitionTask(TaskCompleted, TaskCancelled) || CanTransitionTask(TaskAvailable, TaskCompleted) {
		t.Fatalf("illegal task move allowed")
	}
	if TaskCancelled.Open() || !TaskAssigned.Open() {
		t.Fatalf("Open is wrong")
	}
}

func TestLabels(t *testing.T) {
	if StatusNew.Label() != "Новая" {
		t.Fatalf("unexpected label %q", StatusNew.Label())
	}
	if Status("X").Label() != "X" {
		t.Fatalf("unknown status should render raw")
	}
}
