package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/fsm"
)

// Location is where the device should be collected.
type Location struct {
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// String renders the location for messages.
func (l Location) String() string {
	if l.Address != "" {
		return l.Address
	}
	if l.Latitude != nil && l.Longitude != nil {
		return decimal.NewFromFloat(*l.Latitude).StringFixed(6) + ", " + decimal.NewFromFloat(*l.Longitude).StringFixed(6)
	}
	return "-"
}

// HandoffPurpose tells which physical handoff a confirmation code guards.
type HandoffPurpose string

const (
	HandoffToSC     HandoffPurpose = "courier_to_sc"
	HandoffToClient HandoffPurpose = "sc_to_client"
)

// Handoff is the active confirmation code of a request. Only the bcrypt hash is stored.
type Handoff struct {
	Purpose     HandoffPurpose `json:"purpose"`
	CodeHash    string         `json:"code_hash"`
	RecipientID int64          `json:"recipient_id"`
	Channel     string         `json:"channel"`
	SMSID       string         `json:"sms_id,omitempty"`
	Attempts    int            `json:"attempts"`
	IssuedAt    time.Time      `json:"issued_at"`
}

// StatusEvent is one entry of the request timeline.
type StatusEvent struct {
	From    fsm.Status `json:"from"`
	Status  fsm.Status `json:"status"`
	Event   fsm.Event  `json:"event"`
	ActorID int64      `json:"actor_id"`
	Role    fsm.Role   `json:"role"`
	Note    string     `json:"note,omitempty"`
	At      time.Time  `json:"at"`
}

// Request is a single repair job.
type Request struct {
	ID          int64      `json:"request_id"`
	UserID      int64      `json:"user_id"`
	Status      fsm.Status `json:"status"`
	Version     int        `json:"version"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description"`
	Photos      []string   `json:"photos,omitempty"`
	Location    Location   `json:"location"`

	AssignedSC       *int64 `json:"assigned_sc,omitempty"`
	AssignedDelivery *int64 `json:"assigned_delivery,omitempty"`

	RepairPrice  decimal.Decimal `json:"repair_price"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	DeliveryCost decimal.Decimal `json:"delivery_cost"`
	DeliveryPaid bool            `json:"delivery_paid"`

	PaymentOrderID      string `json:"payment_order_id,omitempty"`
	PaymentURL          string `json:"payment_url,omitempty"`
	FinalPaymentOrderID string `json:"final_payment_order_id,omitempty"`
	FinalPaymentURL     string `json:"final_payment_url,omitempty"`
	// FinalPaymentState is the last gateway state applied to the final order.
	FinalPaymentState   string `json:"final_payment_state,omitempty"`

	Handoff    *Handoff   `json:"confirmation_code,omitempty"`
	UsedCodes  []string   `json:"used_codes,omitempty"`
	// Escalated is set once a code was revoked after too many wrong attempts.
	// Only an admin can issue a new one.
	Escalated  bool       `json:"code_escalated,omitempty"`
	DenyCount  int        `json:"deny_count"`
	ReviewFrom fsm.Status `json:"review_from,omitempty"`

	Timeline  []StatusEvent `json:"timeline,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Clone returns a deep copy.
func (r Request) Clone() Request {
	out := r
	out.Photos = append([]string(nil), r.Photos...)
	out.UsedCodes = append([]string(nil), r.UsedCodes...)
	out.Timeline = append([]StatusEvent(nil), r.Timeline...)
	out.AssignedSC = cloneID(r.AssignedSC)
	out.AssignedDelivery = cloneID(r.AssignedDelivery)
	if r.Handoff != nil {
		h := *r.Handoff
		out.Handoff = &h
	}
	if r.Location.Latitude != nil {
		v := *r.Location.Latitude
		out.Location.Latitude = &v
	}
	if r.Location.Longitude != nil {
		v := *r.Location.Longitude
		out.Location.Longitude = &v
	}
	return out
}

// Validate rejects records whose statuses fall outside the closed sets.
func (r Request) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("request %d: unknown status %q", r.ID, r.Status)
	}
	if r.ReviewFrom != "" && !r.ReviewFrom.Valid() {
		return fmt.Errorf("request %d: unknown review status %q", r.ID, r.ReviewFrom)
	}
	return nil
}

// SCID returns the assigned service center or zero.
func (r Request) SCID() int64 {
	if r.AssignedSC == nil {
		return 0
	}
	return *r.AssignedSC
}

// CourierID returns the assigned courier or zero.
func (r Request) CourierID() int64 {
	if r.AssignedDelivery == nil {
		return 0
	}
	return *r.AssignedDelivery
}

// DeliveryType tells which leg a task covers.
type DeliveryType string

const (
	DeliveryToSC     DeliveryType = "to_sc"
	DeliveryToClient DeliveryType = "to_client"
)

// DeliveryTask is the courier job for one leg of a request.
type DeliveryTask struct {
	ID                 int64          `json:"task_id"`
	RequestID          int64          `json:"request_id"`
	Type               DeliveryType   `json:"delivery_type"`
	Status             fsm.TaskStatus `json:"status"`
	AssignedDeliveryID *int64         `json:"assigned_delivery_id,omitempty"`
	PickupAddress      string         `json:"pickup_address"`
	DropoffAddress     string         `json:"dropoff_address"`
	PickupNote         string         `json:"pickup_note,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (t DeliveryTask) Clone() DeliveryTask {
	out := t
	out.AssignedDeliveryID = cloneID(t.AssignedDeliveryID)
	return out
}

// Validate rejects tasks with a status outside the task status set.
func (t DeliveryTask) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("task %d: unknown status %q", t.ID, t.Status)
	}
	return nil
}

// User is a registered chat participant.
type User struct {
	ID        int64     `json:"user_id"`
	Name      string    `json:"name"`
	Username  string    `json:"username,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Role      fsm.Role  `json:"role"`
	SCID      *int64    `json:"sc_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (u User) Clone() User {
	out := u
	out.SCID = cloneID(u.SCID)
	return out
}

// ServiceCenter is a partner repair shop.
type ServiceCenter struct {
	ID      int64  `json:"sc_id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Phone   string `json:"phone" yaml:"phone"`
}

// Clone returns a copy.
func (s ServiceCenter) Clone() ServiceCenter { return s }

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
