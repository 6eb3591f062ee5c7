package notify

import (
	"context"
	"fmt"
	"sort"

	"repairBack/internal/repair/callback"
	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/store"
)

// Button is an inline button. Either Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is a grid of inline buttons.
type Keyboard [][]Button

// Messenger is the messaging platform contract.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string) error
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
}

// Message is one planned outgoing notification.
type Message struct {
	ChatID   int64
	Text     string
	Keyboard Keyboard
	Photos   []string
}

// Directory resolves who should receive notifications.
type Directory interface {
	Admins() []int64
	Couriers() []int64
	SCStaff(scID int64) []int64
	ServiceCenters() []store.ServiceCenter
	ServiceCenter(id int64) (store.ServiceCenter, bool)
	User(id int64) (store.User, bool)
}

// Logger is the minimal logging interface required by the dispatcher.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// StoreDirectory answers Directory queries from the user and service center stores
// plus static allow-lists from configuration.
type StoreDirectory struct {
	stores   *store.Stores
	admins   []int64
	couriers []int64
}

// NewStoreDirectory constructs a StoreDirectory.
func NewStoreDirectory(stores *store.Stores, admins, couriers []int64) *StoreDirectory {
	return &StoreDirectory{stores: stores, admins: admins, couriers: couriers}
}

// Admins returns configured admins and users registered with the admin role.
func (d *StoreDirectory) Admins() []int64 {
	return d.withRole(d.admins, fsm.RoleAdmin)
}

// Couriers returns configured couriers and users registered with the delivery role.
func (d *StoreDirectory) Couriers() []int64 {
	return d.withRole(d.couriers, fsm.RoleDelivery)
}

func (d *StoreDirectory) withRole(static []int64, role fsm.Role) []int64 {
	seen := make(map[int64]struct{}, len(static))
	out := make([]int64, 0, len(static))
	for _, id := range static {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, u := range d.stores.Users.List(func(u store.User) bool { return u.Role == role }) {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsAdmin reports whether id belongs to an admin.
func (d *StoreDirectory) IsAdmin(id int64) bool { return contains(d.admins, id) }

// IsCourier reports whether id is on the courier allow-list.
func (d *StoreDirectory) IsCourier(id int64) bool { return contains(d.couriers, id) }

// SCStaff returns users bound to the service center.
func (d *StoreDirectory) SCStaff(scID int64) []int64 {
	if scID == 0 {
		return nil
	}
	users := d.stores.Users.List(func(u store.User) bool {
		return u.Role == fsm.RoleSC && u.SCID != nil && *u.SCID == scID
	})
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

// ServiceCenters lists every service center.
func (d *StoreDirectory) ServiceCenters() []store.ServiceCenter {
	return d.stores.ServiceCenters.List(nil)
}

// ServiceCenter returns one service center.
func (d *StoreDirectory) ServiceCenter(id int64) (store.ServiceCenter, bool) {
	sc, err := d.stores.ServiceCenters.Get(id)
	return sc, err == nil
}

// User returns a registered user.
func (d *StoreDirectory) User(id int64) (store.User, bool) {
	u, err := d.stores.Users.Get(id)
	return u, err == nil
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Dispatcher sends planned messages. Delivery failures are logged and never
// propagate to the transition that produced them.
type Dispatcher struct {
	messenger Messenger
	logger    Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(m Messenger, logger Logger) *Dispatcher {
	return &Dispatcher{messenger: m, logger: logger}
}

// Dispatch sends every message independently and returns how many were delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) int {
	sent := 0
	for _, msg := range msgs {
		if msg.ChatID == 0 {
			continue
		}
		for _, photo := range msg.Photos {
			if err := d.messenger.SendPhoto(ctx, msg.ChatID, photo, ""); err != nil {
				d.logf("notify: photo to %d failed: %v", msg.ChatID, err)
			}
		}
		if _, err := d.messenger.SendMessage(ctx, msg.ChatID, msg.Text, msg.Keyboard); err != nil {
			d.logf("notify: message to %d failed: %v", msg.ChatID, err)
			continue
		}
		sent++
	}
	return sent
}

// SendText delivers a single plain message and reports the error to the caller.
func (d *Dispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	if _, err := d.messenger.SendMessage(ctx, chatID, text, nil); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

// Send delivers a single message with a keyboard, logging failures.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string, kb Keyboard) {
	d.Dispatch(ctx, []Message{{ChatID: chatID, Text: text, Keyboard: kb}})
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Errorf(format, args...)
	}
}

// Btn builds a callback button bound to the current request version.
func Btn(text, kind string, req store.Request, extra string) Button {
	return Button{Text: text, Data: callback.Encode(callback.Action{
		Kind:      kind,
		RequestID: req.ID,
		Version:   req.Version,
		Extra:     extra,
	})}
}

// EventBtn builds a button that triggers a lifecycle event.
func EventBtn(text string, ev fsm.Event, req store.Request) Button {
	return Btn(text, string(ev), req, "")
}

// Row is a keyboard row.
func Row(buttons ...Button) []Button { return buttons }
