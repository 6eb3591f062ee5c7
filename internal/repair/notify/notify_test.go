package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/callback"
	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/store"
)

type fakeDirectory struct {
	admins   []int64
	couriers []int64
	staff    map[int64][]int64
	centers  []store.ServiceCenter
}

func (d fakeDirectory) Admins() []int64            { return d.admins }
func (d fakeDirectory) Couriers() []int64          { return d.couriers }
func (d fakeDirectory) SCStaff(scID int64) []int64 { return d.staff[scID] }
func (d fakeDirectory) ServiceCenters() []store.ServiceCenter {
	return d.centers
}
func (d fakeDirectory) ServiceCenter(id int64) (store.ServiceCenter, bool) {
	for _, sc := range d.centers {
		if sc.ID == id {
			return sc, true
		}
	}
	return store.ServiceCenter{}, false
}
func (d fakeDirectory) User(id int64) (store.User, bool) {
	return store.User{ID: id, Name: "Иван"}, true
}

func testDirectory() fakeDirectory {
	return fakeDirectory{
		admins:   []int64{1, 2},
		couriers: []int64{30, 31},
		staff:    map[int64][]int64{7: {70}},
		centers: []store.ServiceCenter{
			{ID: 7, Name: "Fix", Address: "Ленина 1"},
			{ID: 8, Name: "Repair", Address: "Мира 2"},
		},
	}
}

func recipients(msgs []Message) map[int64]int {
	out := make(map[int64]int)
	for _, m := range msgs {
		out[m.ChatID]++
	}
	return out
}

func TestPlanRejectNotifiesAdminsOnce(t *testing.T) {
	sc := int64(7)
	courier := int64(30)
	res := lifecycle.Result{
		Request: store.Request{ID: 5, UserID: 100, Status: fsm.StatusRejected, Version: 9, AssignedSC: &sc, AssignedDelivery: &courier, DenyCount: 2},
		From:    fsm.StatusNeedsAdminReview,
		To:      fsm.StatusRejected,
		Event:   fsm.EventClientDenyReceipt,
		Actor:   lifecycle.Actor{ID: 100, Role: fsm.RoleClient},
	}
	msgs := Planner{Currency: "BYN"}.Plan(res, testDirectory())
	got := recipients(msgs)
	for _, id := range []int64{1, 2, 100, 70, 30} {
		if got[id] != 1 {
			t.Fatalf("recipient %d got %d messages, want 1", id, got[id])
		}
	}
	for _, m := range msgs {
		if m.ChatID == 1 && !strings.Contains(m.Text, "отклонена") {
			t.Fatalf("unexpected admin text %q", m.Text)
		}
	}
}

func TestPlanPriceButtonsCarryVersion(t *testing.T) {
	sc := int64(7)
	res := lifecycle.Result{
		Request: store.Request{
			ID: 5, UserID: 100, Status: fsm.StatusPendingPriceNegotiation, Version: 4, AssignedSC: &sc,
			RepairPrice: decimal.NewFromInt(100), DeliveryCost: decimal.NewFromInt(50),
		},
		From:  fsm.StatusAssignedToSC,
		To:    fsm.StatusPendingPriceNegotiation,
		Event: fsm.EventSCSetPrice,
		Actor: lifecycle.Actor{ID: 70, Role: fsm.RoleSC, SCID: 7},
	}
	msgs := Planner{Currency: "BYN"}.Plan(res, testDirectory())
	var client *Message
	for i := range msgs {
		if msgs[i].ChatID == 100 {
			client = &msgs[i]
		}
	}
	if client == nil {
		t.Fatalf("client was not notified: %+v", msgs)
	}
	if !strings.Contains(client.Text, "150.00 BYN") {
		t.Fatalf("expected total in text, got %q", client.Text)
	}
	if len(client.Keyboard) != 1 || len(client.Keyboard[0]) != 2 {
		t.Fatalf("unexpected keyboard %+v", client.Keyboard)
	}
	act, err := callback.Decode(client.Keyboard[0][0].Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if act.Kind != string(fsm.EventClientApprovePrice) || act.RequestID != 5 || act.Version != 4 {
		t.Fatalf("unexpected action %+v", act)
	}
}

func TestPlanSCRejectOffersOtherCenters(t *testing.T) {
	res := lifecycle.Result{
		Request: store.Request{ID: 5, UserID: 100, Status: fsm.StatusNew, Version: 3},
		From:    fsm.StatusSentToSC,
		To:      fsm.StatusNew,
		Event:   fsm.EventSCReject,
		Actor:   lifecycle.Actor{ID: 70, Role: fsm.RoleSC, SCID: 7},
	}
	msgs := Planner{}.Plan(res, testDirectory())
	if len(msgs) != 2 {
		t.Fatalf("expected one message per admin, got %d", len(msgs))
	}
	for _, row := range msgs[0].Keyboard {
		for _, b := range row {
			act, err := callback.Decode(b.Data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if act.Kind == string(fsm.EventAdminSendToSC) && act.Extra == "7" {
				t.Fatalf("rejecting center must not be offered again")
			}
		}
	}
}

func TestPlanCodeMismatchOnlyTellsActor(t *testing.T) {
	res := lifecycle.Result{
		Request: store.Request{ID: 5, UserID: 100, Status: fsm.StatusCourierEnRouteToSC},
		From:    fsm.StatusCourierEnRouteToSC,
		To:      fsm.StatusCourierEnRouteToSC,
		Event:   fsm.EventCodeMismatch,
		Actor:   lifecycle.Actor{ID: 70, Role: fsm.RoleSC, SCID: 7},
		Effects: []lifecycle.Effect{{Kind: lifecycle.EffectCodeMismatch, Remaining: 3}},
	}
	msgs := Planner{}.Plan(res, testDirectory())
	if len(msgs) != 1 || msgs[0].ChatID != 70 || !strings.Contains(msgs[0].Text, "3") {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestPlanCreatedAttachesPhotosForAdmins(t *testing.T) {
	req := store.Request{ID: 1, UserID: 100, Status: fsm.StatusNew, Description: "не включается", Photos: []string{"p1"}}
	msgs := Planner{}.PlanCreated(req, testDirectory())
	if len(msgs) != 3 {
		t.Fatalf("expected client plus two admins, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ChatID == 100 && len(m.Photos) != 0 {
			t.Fatalf("client should not get photos back")
		}
		if m.ChatID != 100 && len(m.Photos) != 1 {
			t.Fatalf("admin %d should get photos", m.ChatID)
		}
	}
}

type flakyMessenger struct {
	fail map[int64]bool
	sent []int64
}

func (m *flakyMessenger) SendMessage(_ context.Context, chatID int64, _ string, _ Keyboard) (int, error) {
	if m.fail[chatID] {
		return 0, errors.New("blocked by user")
	}
	m.sent = append(m.sent, chatID)
	return len(m.sent), nil
}

func (m *flakyMessenger) SendPhoto(context.Context, int64, string, string) error { return nil }

func (m *flakyMessenger) EditMessage(context.Context, int64, int, string, Keyboard) error {
	return nil
}

type nopLogger struct{ errors int }

func (l *nopLogger) Infof(string, ...interface{})  {}
func (l *nopLogger) Errorf(string, ...interface{}) { l.errors++ }

func TestDispatchContinuesAfterFailure(t *testing.T) {
	m := &flakyMessenger{fail: map[int64]bool{2: true}}
	logger := &nopLogger{}
	d := NewDispatcher(m, logger)

	sent := d.Dispatch(context.Background(), []Message{
		{ChatID: 1, Text: "a"},
		{ChatID: 2, Text: "b"},
		{ChatID: 3, Text: "c"},
		{ChatID: 0, Text: "skipped"},
	})
	if sent != 2 {
		t.Fatalf("expected 2 delivered, got %d", sent)
	}
	if len(m.sent) != 2 || m.sent[0] != 1 || m.sent[1] != 3 {
		t.Fatalf("unexpected delivery order %v", m.sent)
	}
	if logger.errors != 1 {
		t.Fatalf("expected one logged failure, got %d", logger.errors)
	}
	if err := d.SendText(context.Background(), 2, "x"); err == nil {
		t.Fatalf("SendText should report the failure")
	}
}

func TestStoreDirectoryMergesAllowListAndRoles(t *testing.T) {
	stores, err := store.OpenStores(t.TempDir())
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	sc := int64(7)
	err = stores.Users.Update(func(tx *store.Tx[store.User]) error {
		tx.Put(2, store.User{ID: 2, Role: fsm.RoleAdmin})
		tx.Put(3, store.User{ID: 3, Role: fsm.RoleAdmin})
		tx.Put(70, store.User{ID: 70, Role: fsm.RoleSC, SCID: &sc})
		tx.Put(71, store.User{ID: 71, Role: fsm.RoleClient})
		return nil
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	dir := NewStoreDirectory(stores, []int64{1, 2}, []int64{30})

	admins := dir.Admins()
	if len(admins) != 3 || admins[0] != 1 || admins[2] != 3 {
		t.Fatalf("unexpected admins %v", admins)
	}
	if staff := dir.SCStaff(7); len(staff) != 1 || staff[0] != 70 {
		t.Fatalf("unexpected staff %v", staff)
	}
	if !dir.IsCourier(30) || dir.IsAdmin(3) {
		t.Fatalf("allow-list checks are wrong")
	}
}
