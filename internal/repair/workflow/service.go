package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/history"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/notify"
	"repairBack/internal/repair/pay"
	"repairBack/internal/repair/pricing"
	"repairBack/internal/repair/store"
)

// Logger is the minimal logging interface required by the service.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Payments is the payment gateway contract.
type Payments interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, description string) (pay.Order, error)
	PollStatus(ctx context.Context, orderID string) (pay.Status, error)
}

// CodeIssuer generates and delivers confirmation codes.
type CodeIssuer interface {
	Issue(ctx context.Context, requestID int64, recipient store.User, purpose store.HandoffPurpose, used []string) (store.Handoff, error)
}

// Sender delivers planned notifications.
type Sender interface {
	Dispatch(ctx context.Context, msgs []notify.Message) int
}

// Chats opens and closes the relay between a client and SC staff.
type Chats interface {
	Open(ctx context.Context, requestID int64, members []int64) error
	Close(ctx context.Context, requestID int64, members []int64) error
}

// Observer receives every committed transition.
type Observer func(lifecycle.Result)

// Deps wires the service collaborators. Payments, Chats and History are optional.
type Deps struct {
	Engine    *lifecycle.Engine
	Stores    *store.Stores
	Issuer    CodeIssuer
	Payments  Payments
	Sender    Sender
	Directory notify.Directory
	Planner   notify.Planner
	Chats     Chats
	History   history.Recorder
	Logger    Logger
	Timeout   time.Duration
	Admins    []int64
	Couriers  []int64
	Now       func() time.Time
}

// Service orchestrates lifecycle transitions and their side effects. External
// calls are made outside of store locks: read, call, then commit.
type Service struct {
	engine   *lifecycle.Engine
	stores   *store.Stores
	issuer   CodeIssuer
	payments Payments
	sender   Sender
	dir      notify.Directory
	planner  notify.Planner
	chats    Chats
	history  history.Recorder
	logger   Logger
	timeout  time.Duration
	admins   []int64
	couriers []int64
	now      func() time.Time

	obsMu     sync.RWMutex
	observers []Observer
}

// New constructs a Service.
func New(d Deps) *Service {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.History == nil {
		d.History = history.Noop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		engine:   d.Engine,
		stores:   d.Stores,
		issuer:   d.Issuer,
		payments: d.Payments,
		sender:   d.Sender,
		dir:      d.Directory,
		planner:  d.Planner,
		chats:    d.Chats,
		history:  d.History,
		logger:   d.Logger,
		timeout:  d.Timeout,
		admins:   d.Admins,
		couriers: d.Couriers,
		now:      d.Now,
	}
}

// Subscribe registers an observer of committed transitions.
func (s *Service) Subscribe(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// NewRequest is the input of CreateRequest.
type NewRequest struct {
	UserID      int64
	Category    string
	Description string
	Photos      []string
	Location    store.Location
}

// CreateRequest persists a new request in status NEW and notifies admins.
func (s *Service) CreateRequest(ctx context.Context, in NewRequest) (store.Request, error) {
	if in.UserID == 0 {
		return store.Request{}, fmt.Errorf("%w: user is required", lifecycle.ErrInvalidTransition)
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return store.Request{}, fmt.Errorf("%w: description is required", lifecycle.ErrInvalidTransition)
	}
	now := s.now()
	var req store.Request
	err := s.stores.Requests.Update(func(tx *store.Tx[store.Request]) error {
		req = store.Request{
			ID:          tx.NextID(),
			UserID:      in.UserID,
			Status:      fsm.StatusNew,
			Version:     1,
			Category:    strings.TrimSpace(in.Category),
			Description: desc,
			Photos:      append([]string(nil), in.Photos...),
			Location:    in.Location,
			CreatedAt:   now,
			UpdatedAt:   now,
			Timeline: []store.StatusEvent{{
				Status:  fsm.StatusNew,
				ActorID: in.UserID,
				Role:    fsm.RoleClient,
				At:      now,
			}},
		}
		tx.Put(req.ID, req)
		return nil
	})
	if err != nil {
		return store.Request{}, fmt.Errorf("%w: %v", lifecycle.ErrPersistence, err)
	}
	s.infof("request %d created by %d", req.ID, req.UserID)
	s.sender.Dispatch(ctx, s.planner.PlanCreated(req, s.dir))
	s.publish(ctx, lifecycle.Result{
		Request: req.Clone(),
		To:      fsm.StatusNew,
		Actor:   lifecycle.Actor{ID: in.UserID, Role: fsm.RoleClient},
	})
	return req, nil
}

// Handle applies one event and performs every side effect of the transition.
func (s *Service) Handle(ctx context.Context, cmd lifecycle.Command) (lifecycle.Result, error) {
	res, err := s.engine.Apply(ctx, cmd)
	if err != nil {
		return lifecycle.Result{}, err
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// SubmitCode checks a confirmation code entered by the actor.
func (s *Service) SubmitCode(ctx context.Context, requestID int64, actor lifecycle.Actor, code string) (lifecycle.Result, error) {
	res, err := s.engine.SubmitCode(ctx, requestID, actor, code)
	if err != nil {
		return lifecycle.Result{}, err
	}
	s.afterCommit(ctx, res)
	return res, nil
}

func (s *Service) afterCommit(ctx context.Context, res lifecycle.Result) {
	s.sender.Dispatch(ctx, s.planner.Plan(res, s.dir))
	s.publish(ctx, res)

	for _, e := range res.Effects {
		switch e.Kind {
		case lifecycle.EffectIssueCode:
			_ = s.issueCode(ctx, res.Request, e.Purpose, e.RecipientID)
		case lifecycle.EffectCreateTask:
			s.createTask(ctx, res.Request, e.Delivery)
		case lifecycle.EffectCreateFinalPayment:
			_ = s.createFinalPayment(ctx, res.Request)
		case lifecycle.EffectOpenChat:
			s.toggleChat(ctx, res.Request, true)
		case lifecycle.EffectCloseChat:
			s.toggleChat(ctx, res.Request, false)
		}
	}
}

func (s *Service) publish(ctx context.Context, res lifecycle.Result) {
	if res.Event != "" {
		entry := history.Entry{
			RequestID: res.Request.ID,
			From:      res.From,
			To:        res.To,
			Event:     res.Event,
			ActorID:   res.Actor.ID,
			ActorRole: res.Actor.Role,
			CreatedAt: res.Request.UpdatedAt,
		}
		if n := len(res.Request.Timeline); n > 0 {
			entry.Note = res.Request.Timeline[n-1].Note
		}
		if err := s.history.Record(ctx, entry); err != nil {
			s.errorf("request %d: history record failed: %v", res.Request.ID, err)
		}
	}

	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range observers {
		o(res)
	}
}

// createTask opens the delivery task of a leg on behalf of the system. When it
// fails, admins are asked to create the task by hand.
func (s *Service) createTask(ctx context.Context, req store.Request, typ store.DeliveryType) {
	res, err := s.engine.Apply(ctx, lifecycle.Command{
		RequestID: req.ID,
		Event:     fsm.EventAdminCreateDelivery,
		Actor:     lifecycle.SystemActor,
		Version:   req.Version,
	})
	if err != nil {
		s.errorf("request %d: create %s task failed: %v", req.ID, typ, err)
		if current, gerr := s.engine.Request(req.ID); gerr == nil {
			req = current
		}
		s.sender.Dispatch(ctx, s.planner.ManualDelivery(req, typ, s.dir))
		return
	}
	s.afterCommit(ctx, res)
}

func (s *Service) issueCode(ctx context.Context, req store.Request, purpose store.HandoffPurpose, recipientID int64) error {
	recipient, ok := s.dir.User(recipientID)
	if !ok {
		recipient = store.User{ID: recipientID}
	}
	h, err := s.issuer.Issue(ctx, req.ID, recipient, purpose, req.UsedCodes)
	if err != nil {
		s.errorf("request %d: issue %s code failed: %v", req.ID, purpose, err)
		s.sender.Dispatch(ctx, s.planner.CodeUndeliverable(req, recipientID, s.dir))
		return fmt.Errorf("%w: issue code: %v", lifecycle.ErrExternal, err)
	}
	if _, err := s.engine.AttachHandoff(ctx, req.ID, h); err != nil {
		s.errorf("request %d: attach %s code failed: %v", req.ID, purpose, err)
		return err
	}
	return nil
}

func (s *Service) createFinalPayment(ctx context.Context, req store.Request) error {
	req = s.settlePrepayment(ctx, req)
	due := pricing.AmountDue(req.FinalPrice, req.DeliveryCost, req.DeliveryPaid)
	if !due.IsPositive() {
		_, err := s.Handle(ctx, lifecycle.Command{RequestID: req.ID, Event: fsm.EventPaymentConfirmed, Actor: lifecycle.SystemActor})
		return err
	}
	if s.payments == nil {
		s.sender.Dispatch(ctx, s.planner.PaymentUnavailable(req, s.dir))
		return fmt.Errorf("%w: payments are not configured", lifecycle.ErrExternal)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	order, err := s.payments.CreateOrder(callCtx, due, fmt.Sprintf("Ремонт по заявке #%d", req.ID))
	cancel()
	if err != nil {
		s.errorf("request %d: create payment failed: %v", req.ID, err)
		s.sender.Dispatch(ctx, s.planner.PaymentUnavailable(req, s.dir))
		return fmt.Errorf("%w: create payment: %v", lifecycle.ErrExternal, err)
	}
	updated, err := s.engine.AttachPaymentOrder(ctx, req.ID, lifecycle.PaymentFinal, order.ID, order.PaymentURL)
	if err != nil {
		s.errorf("request %d: attach payment order failed: %v", req.ID, err)
		return err
	}
	s.sender.Dispatch(ctx, s.planner.PaymentLink(updated))
	return nil
}

// settlePrepayment checks a pending delivery prepayment before the final bill
// is built so the client is never charged for delivery twice.
func (s *Service) settlePrepayment(ctx context.Context, req store.Request) store.Request {
	if req.PaymentOrderID == "" || req.DeliveryPaid || s.payments == nil {
		return req
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	st, err := s.payments.PollStatus(callCtx, req.PaymentOrderID)
	cancel()
	if err != nil || !st.Paid {
		return req
	}
	updated, err := s.engine.MarkDeliveryPaid(ctx, req.ID)
	if err != nil {
		s.errorf("request %d: mark delivery paid failed: %v", req.ID, err)
		return req
	}
	return updated
}

func (s *Service) toggleChat(ctx context.Context, req store.Request, open bool) {
	if s.chats == nil {
		return
	}
	members := append([]int64{req.UserID}, s.dir.SCStaff(req.SCID())...)
	var err error
	if open {
		err = s.chats.Open(ctx, req.ID, members)
	} else {
		err = s.chats.Close(ctx, req.ID, members)
	}
	if err != nil {
		s.errorf("request %d: chat relay update failed: %v", req.ID, err)
	}
}

// ResendCode issues a fresh confirmation code for the pending handoff.
func (s *Service) ResendCode(ctx context.Context, requestID int64, actor lifecycle.Actor) error {
	req, err := s.engine.Request(requestID)
	if err != nil {
		return err
	}
	var (
		purpose   store.HandoffPurpose
		recipient int64
	)
	switch req.Status {
	case fsm.StatusCourierEnRouteToSC:
		purpose, recipient = store.HandoffToSC, req.CourierID()
	case fsm.StatusAwaitingFinalConfirm:
		purpose, recipient = store.HandoffToClient, req.UserID
	default:
		return fmt.Errorf("%w: request %d does not wait for a code", lifecycle.ErrInvalidTransition, requestID)
	}
	if !involved(req, actor) {
		return fmt.Errorf("%w: actor %d is not part of request %d", lifecycle.ErrInvalidTransition, actor.ID, requestID)
	}
	if actor.Role != fsm.RoleAdmin {
		if req.Escalated {
			return fmt.Errorf("%w: request %d waits for an admin after too many wrong codes", lifecycle.ErrInvalidTransition, requestID)
		}
		if err := s.engine.EnsureActionAllowed(requestID, lifecycle.ActionResendCode); err != nil {
			return err
		}
	}
	return s.issueCode(ctx, req, purpose, recipient)
}

func involved(req store.Request, actor lifecycle.Actor) bool {
	switch actor.Role {
	case fsm.RoleAdmin, fsm.RoleSystem:
		return true
	case fsm.RoleClient:
		return actor.ID == req.UserID
	case fsm.RoleSC:
		return actor.SCID != 0 && actor.SCID == req.SCID()
	case fsm.RoleDelivery:
		return actor.ID == req.CourierID()
	}
	return false
}

// PaymentState is the outcome of a payment check.
type PaymentState int

const (
	PaymentPending PaymentState = iota
	PaymentPaid
	PaymentFailed
)

// CheckPayment polls the gateway for the final payment and commits the outcome.
func (s *Service) CheckPayment(ctx context.Context, requestID int64, actor lifecycle.Actor) (PaymentState, error) {
	req, err := s.engine.Request(requestID)
	if err != nil {
		return PaymentPending, err
	}
	if !involved(req, actor) {
		return PaymentPending, fmt.Errorf("%w: actor %d is not part of request %d", lifecycle.ErrInvalidTransition, actor.ID, requestID)
	}
	if req.Status == fsm.StatusDelivered {
		return PaymentPaid, nil
	}
	if req.Status != fsm.StatusAwaitingFinalPayment {
		return PaymentPending, fmt.Errorf("%w: request %d is not awaiting payment", lifecycle.ErrInvalidTransition, requestID)
	}
	if err := s.engine.EnsureActionAllowed(requestID, lifecycle.ActionCheckPayment); err != nil {
		return PaymentPending, err
	}
	if req.FinalPaymentOrderID == "" {
		// The order could not be created earlier; try again.
		return PaymentPending, s.createFinalPayment(ctx, req)
	}
	if s.payments == nil {
		return PaymentPending, fmt.Errorf("%w: payments are not configured", lifecycle.ErrExternal)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	st, err := s.payments.PollStatus(callCtx, req.FinalPaymentOrderID)
	cancel()
	if err != nil {
		return PaymentPending, fmt.Errorf("%w: poll payment: %v", lifecycle.ErrExternal, err)
	}
	return s.commitPayment(ctx, req, st)
}

func (s *Service) commitPayment(ctx context.Context, req store.Request, st pay.Status) (PaymentState, error) {
	cmd := lifecycle.Command{RequestID: req.ID, Event: fsm.EventPaymentFailed, Actor: lifecycle.SystemActor, GatewayState: st.RawState}
	state := PaymentFailed
	switch {
	case st.Paid:
		cmd.Event, state = fsm.EventPaymentConfirmed, PaymentPaid
	case !st.Failed():
		s.sender.Dispatch(ctx, s.planner.PaymentPending(req))
		return PaymentPending, nil
	}
	_, err := s.Handle(ctx, cmd)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// Already applied by a concurrent or repeated notification.
			current, gerr := s.engine.Request(req.ID)
			switch {
			case gerr != nil:
			case st.Paid && current.Status == fsm.StatusDelivered:
				return PaymentPaid, nil
			case !st.Paid && current.FinalPaymentState == lifecycle.NormalizePaymentState(st.RawState):
				return PaymentFailed, nil
			}
		}
		return PaymentPending, err
	}
	return state, nil
}

// PaymentCallback applies a verified gateway notification. Repeated callbacks
// for an already settled order are accepted without side effects.
func (s *Service) PaymentCallback(ctx context.Context, cb pay.Callback) error {
	matches := s.stores.Requests.List(func(r store.Request) bool {
		return r.FinalPaymentOrderID == cb.OrderID || r.PaymentOrderID == cb.OrderID
	})
	if len(matches) == 0 {
		return fmt.Errorf("%w: payment order %s", lifecycle.ErrNotFound, cb.OrderID)
	}
	req := matches[0]

	if req.PaymentOrderID == cb.OrderID {
		if !cb.Paid() || req.DeliveryPaid {
			return nil
		}
		updated, err := s.engine.MarkDeliveryPaid(ctx, req.ID)
		if err != nil {
			return err
		}
		s.sender.Dispatch(ctx, s.planner.DeliveryPaid(updated))
		return nil
	}

	if req.Status != fsm.StatusAwaitingFinalPayment {
		return nil
	}
	_, err := s.commitPayment(ctx, req, pay.Status{Paid: cb.Paid(), RawState: cb.State})
	return err
}

// PrepayDelivery creates (or re-sends) the delivery prepayment link.
func (s *Service) PrepayDelivery(ctx context.Context, requestID int64, actor lifecycle.Actor) (store.Request, error) {
	req, err := s.engine.Request(requestID)
	if err != nil {
		return store.Request{}, err
	}
	if actor.Role != fsm.RoleClient || actor.ID != req.UserID {
		return store.Request{}, fmt.Errorf("%w: only the client can prepay delivery", lifecycle.ErrInvalidTransition)
	}
	switch {
	case req.DeliveryPaid:
		return req, fmt.Errorf("%w: delivery of request %d is already paid", lifecycle.ErrInvalidTransition, requestID)
	case req.Status.Terminal(), req.FinalPaymentOrderID != "", req.Status == fsm.StatusAwaitingFinalPayment:
		return req, fmt.Errorf("%w: delivery of request %d cannot be prepaid now", lifecycle.ErrInvalidTransition, requestID)
	case !req.DeliveryCost.IsPositive():
		return req, fmt.Errorf("%w: delivery cost of request %d is not known yet", lifecycle.ErrInvalidTransition, requestID)
	}
	if req.PaymentOrderID != "" {
		s.sender.Dispatch(ctx, s.planner.PrepayLink(req))
		return req, nil
	}
	if err := s.engine.EnsureActionAllowed(requestID, lifecycle.ActionPrepay); err != nil {
		return req, err
	}
	if s.payments == nil {
		return req, fmt.Errorf("%w: payments are not configured", lifecycle.ErrExternal)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	order, err := s.payments.CreateOrder(callCtx, req.DeliveryCost, fmt.Sprintf("Доставка по заявке #%d", req.ID))
	cancel()
	if err != nil {
		return req, fmt.Errorf("%w: create delivery payment: %v", lifecycle.ErrExternal, err)
	}
	updated, err := s.engine.AttachPaymentOrder(ctx, req.ID, lifecycle.PaymentDelivery, order.ID, order.PaymentURL)
	if err != nil {
		return req, err
	}
	s.sender.Dispatch(ctx, s.planner.PrepayLink(updated))
	return updated, nil
}

// CheckDeliveryPayment polls the delivery prepayment order.
func (s *Service) CheckDeliveryPayment(ctx context.Context, requestID int64, actor lifecycle.Actor) (bool, error) {
	req, err := s.engine.Request(requestID)
	if err != nil {
		return false, err
	}
	if !involved(req, actor) {
		return false, fmt.Errorf("%w: actor %d is not part of request %d", lifecycle.ErrInvalidTransition, actor.ID, requestID)
	}
	if req.DeliveryPaid {
		return true, nil
	}
	if req.PaymentOrderID == "" {
		return false, fmt.Errorf("%w: request %d has no delivery payment", lifecycle.ErrInvalidTransition, requestID)
	}
	if s.payments == nil {
		return false, fmt.Errorf("%w: payments are not configured", lifecycle.ErrExternal)
	}
	if err := s.engine.EnsureActionAllowed(requestID, lifecycle.ActionCheckPayment); err != nil {
		return false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	st, err := s.payments.PollStatus(callCtx, req.PaymentOrderID)
	cancel()
	if err != nil {
		return false, fmt.Errorf("%w: poll delivery payment: %v", lifecycle.ErrExternal, err)
	}
	if !st.Paid {
		return false, nil
	}
	updated, err := s.engine.MarkDeliveryPaid(ctx, requestID)
	if err != nil {
		return false, err
	}
	s.sender.Dispatch(ctx, s.planner.DeliveryPaid(updated))
	return true, nil
}

// Request returns a request by id.
func (s *Service) Request(id int64) (store.Request, error) {
	return s.engine.Request(id)
}

// Requests lists requests accepted by filter.
func (s *Service) Requests(filter func(store.Request) bool) []store.Request {
	return s.stores.Requests.List(filter)
}

// Tasks lists delivery tasks accepted by filter.
func (s *Service) Tasks(filter func(store.DeliveryTask) bool) []store.DeliveryTask {
	return s.stores.Tasks.List(filter)
}

// History returns the audit trail of a request.
func (s *Service) History(ctx context.Context, requestID int64) ([]history.Entry, error) {
	return s.history.List(ctx, requestID)
}

// CourierTasks returns available tasks plus the open tasks of the courier.
func (s *Service) CourierTasks(courierID int64) []store.DeliveryTask {
	return s.stores.Tasks.List(func(t store.DeliveryTask) bool {
		if t.Status == fsm.TaskAvailable {
			return true
		}
		return t.Status.Open() && t.AssignedDeliveryID != nil && *t.AssignedDeliveryID == courierID
	})
}

func (s *Service) infof(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Infof(format, args...)
	}
}

func (s *Service) errorf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Errorf(format, args...)
	}
}
