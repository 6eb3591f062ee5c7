package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/handoff"
	"repairBack/internal/repair/store"
)

// RequestStore is the persistence contract for requests.
type RequestStore interface {
	Get(id int64) (store.Request, error)
	Update(fn func(tx *store.Tx[store.Request]) error) error
}

// TaskStore is the persistence contract for delivery tasks.
type TaskStore interface {
	Get(id int64) (store.DeliveryTask, error)
	List(filter func(store.DeliveryTask) bool) []store.DeliveryTask
	Update(fn func(tx *store.Tx[store.DeliveryTask]) error) error
}

// CenterStore resolves service centers.
type CenterStore interface {
	Get(id int64) (store.ServiceCenter, error)
}

// Engine applies events to requests according to the transition table.
// Every mutation happens inside the request store writer lock; tasks are
// written under their own lock, always taken after the request lock.
type Engine struct {
	cfg      Config
	requests RequestStore
	tasks    TaskStore
	centers  CenterStore
	now      func() time.Time

	pressMu sync.Mutex
	presses map[pressKey]*buttonState
}

type pressKey struct {
	requestID int64
	action    Action
}

type buttonState struct {
	lastPress time.Time
	count     int
	expiresAt time.Time
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config, requests RequestStore, tasks TaskStore, centers CenterStore, now func() time.Time) *Engine {
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = DefaultConfig().MaxCodeAttempts
	}
	if cfg.DenyLimit <= 0 {
		cfg.DenyLimit = DefaultConfig().DenyLimit
	}
	if cfg.Tariff.BaseFee.IsZero() && cfg.Tariff.Rate.IsZero() {
		cfg.Tariff = DefaultConfig().Tariff
	}
	if cfg.ButtonPolicies == nil {
		cfg.ButtonPolicies = make(map[Action]ButtonPolicy)
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		requests: requests,
		tasks:    tasks,
		centers:  centers,
		now:      now,
		presses:  make(map[pressKey]*buttonState),
	}
}

// Config returns copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Request loads a request.
func (e *Engine) Request(id int64) (store.Request, error) {
	req, err := e.requests.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Request{}, fmt.Errorf("%w: request %d", ErrNotFound, id)
	}
	return req, err
}

type applyCtx struct {
	e    *Engine
	cmd  Command
	req  *store.Request
	from fsm.Status
	next fsm.Status
	now  time.Time

	effects []Effect
	newTask *store.DeliveryTask
	tasks   []store.DeliveryTask
	changed map[int64]bool
	touched *store.DeliveryTask
	// bump moves the version even though the status stays.
	bump bool
}

func (ac *applyCtx) effect(e Effect) {
	ac.effects = append(ac.effects, e)
}

// Apply validates and commits one event.
func (e *Engine) Apply(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Event == fsm.EventCodeVerified || cmd.Event == fsm.EventCodeMismatch {
		if !cmd.codeFlow {
			return Result{}, fmt.Errorf("%w: %s is produced by code submission only", ErrInvalidTransition, cmd.Event)
		}
	}
	return e.apply(ctx, cmd)
}

var testHookCodeChecked = func() {}

func (e *Engine) apply(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// The bcrypt comparison runs before the writer lock is taken. The commit
	// only goes through if the same code is still active.
	var (
		checkedHash string
		matched     bool
	)
	if cmd.codeFlow {
		if cur, err := e.requests.Get(cmd.RequestID); err == nil && cur.Handoff != nil {
			checkedHash = cur.Handoff.CodeHash
			matched = handoff.Matches(cur.Handoff, cmd.code)
		}
		testHookCodeChecked()
	}

	var (
		res       Result
		ac        *applyCtx
		taskUndo  map[int64]*store.DeliveryTask
		taskSaved bool
	)
	err := e.requests.Update(func(tx *store.Tx[store.Request]) error {
		req, err := tx.Get(cmd.RequestID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: request %d", ErrNotFound, cmd.RequestID)
		}
		if err != nil {
			return err
		}
		if cmd.Version != 0 && cmd.Version != req.Version {
			return fmt.Errorf("%w: request %d is at version %d, action issued for %d", ErrInvalidTransition, req.ID, req.Version, cmd.Version)
		}
		if cmd.codeFlow {
			if req.Handoff == nil {
				return fmt.Errorf("%w: request %d has no active confirmation code", ErrInvalidTransition, req.ID)
			}
			if req.Handoff.CodeHash != checkedHash {
				return fmt.Errorf("%w: confirmation code of request %d was reissued", ErrInvalidTransition, req.ID)
			}
			cmd.Event = fsm.EventCodeMismatch
			if matched {
				cmd.Event = fsm.EventCodeVerified
			}
		}
		rule, ok := fsm.Lookup(req.Status, cmd.Event)
		if !ok {
			return fmt.Errorf("%w: %s not allowed in %s", ErrInvalidTransition, cmd.Event, req.Status)
		}
		if !rule.AllowsActor(cmd.Actor.Role) {
			return fmt.Errorf("%w: role %s may not trigger %s", ErrInvalidTransition, cmd.Actor.Role, cmd.Event)
		}
		if err := authorize(req, cmd); err != nil {
			return err
		}

		ac = &applyCtx{e: e, cmd: cmd, req: &req, from: req.Status, next: rule.Next, now: e.now(), changed: make(map[int64]bool)}
		ac.tasks = e.tasks.List(func(t store.DeliveryTask) bool { return t.RequestID == req.ID })
		if m, ok := mutators[cmd.Event]; ok {
			if err := m(ac); err != nil {
				return err
			}
		}
		if ac.next == fsm.StatusRejected {
			ac.reject()
		}
		if !rule.Permits(ac.next) {
			return fmt.Errorf("%w: %s cannot lead from %s to %s", ErrInvalidTransition, cmd.Event, req.Status, ac.next)
		}

		// Events that keep the status leave buttons issued by others valid.
		if ac.next != ac.from || ac.bump {
			req.Version++
		}
		if ac.next != ac.from {
			req.Escalated = false
		}
		req.Status = ac.next
		req.UpdatedAt = ac.now
		req.Timeline = append(req.Timeline, store.StatusEvent{
			From:    ac.from,
			Status:  ac.next,
			Event:   cmd.Event,
			ActorID: cmd.Actor.ID,
			Role:    cmd.Actor.Role,
			Note:    strings.TrimSpace(cmd.Note),
			At:      ac.now,
		})

		undo, err := e.writeTasks(ac)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		taskUndo = undo
		taskSaved = undo != nil

		tx.Put(req.ID, req)
		res = Result{
			Request: req.Clone(),
			From:    ac.from,
			To:      ac.next,
			Event:   cmd.Event,
			Actor:   cmd.Actor,
			Effects: ac.effects,
		}
		if ac.touched != nil {
			t := ac.touched.Clone()
			res.Task = &t
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrWrite) {
			if taskSaved {
				e.undoTasks(taskUndo)
			}
			return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return Result{}, err
	}
	return res, nil
}

// writeTasks persists task changes collected by the mutators and returns the
// previous values so they can be restored if the request write fails.
func (e *Engine) writeTasks(ac *applyCtx) (map[int64]*store.DeliveryTask, error) {
	if ac.newTask == nil && len(ac.changed) == 0 {
		return nil, nil
	}
	undo := make(map[int64]*store.DeliveryTask)
	err := e.tasks.Update(func(tx *store.Tx[store.DeliveryTask]) error {
		for _, t := range ac.tasks {
			if !ac.changed[t.ID] {
				continue
			}
			prev, err := tx.Get(t.ID)
			if err != nil {
				return fmt.Errorf("task %d: %w", t.ID, err)
			}
			undo[t.ID] = &prev
			tx.Put(t.ID, t)
		}
		if ac.newTask != nil {
			ac.newTask.ID = tx.NextID()
			undo[ac.newTask.ID] = nil
			tx.Put(ac.newTask.ID, *ac.newTask)
			ac.touched = ac.newTask
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return undo, nil
}

func (e *Engine) undoTasks(undo map[int64]*store.DeliveryTask) {
	_ = e.tasks.Update(func(tx *store.Tx[store.DeliveryTask]) error {
		for id, prev := range undo {
			if prev == nil {
				tx.Delete(id)
				continue
			}
			tx.Put(id, *prev)
		}
		return nil
	})
}

func authorize(req store.Request, cmd Command) error {
	switch cmd.Actor.Role {
	case fsm.RoleClient:
		if cmd.Actor.ID != req.UserID {
			return fmt.Errorf("%w: request %d belongs to another client", ErrInvalidTransition, req.ID)
		}
	case fsm.RoleSC:
		if cmd.Actor.SCID == 0 || cmd.Actor.SCID != req.SCID() {
			return fmt.Errorf("%w: request %d is not assigned to service center %d", ErrInvalidTransition, req.ID, cmd.Actor.SCID)
		}
	case fsm.RoleDelivery:
		if cmd.Event == fsm.EventCourierAcceptPickup {
			return nil
		}
		if cmd.Actor.ID == 0 || cmd.Actor.ID != req.CourierID() {
			return fmt.Errorf("%w: request %d is assigned to another courier", ErrInvalidTransition, req.ID)
		}
	}
	return nil
}

// SubmitCode checks a confirmation code and applies code_verified or code_mismatch.
func (e *Engine) SubmitCode(ctx context.Context, requestID int64, actor Actor, code string) (Result, error) {
	return e.apply(ctx, Command{
		RequestID: requestID,
		Event:     fsm.EventCodeMismatch,
		Actor:     actor,
		code:      strings.TrimSpace(code),
		codeFlow:  true,
	})
}

// AttachHandoff stores a freshly issued confirmation code. The request must
// still be waiting for the handoff the code was issued for.
func (e *Engine) AttachHandoff(ctx context.Context, requestID int64, h store.Handoff) (store.Request, error) {
	if err := ctx.Err(); err != nil {
		return store.Request{}, err
	}
	var out store.Request
	err := e.requests.Update(func(tx *store.Tx[store.Request]) error {
		req, err := tx.Get(requestID)
		if err != nil {
			return fmt.Errorf("%w: request %d", ErrNotFound, requestID)
		}
		if expectedStatus(h.Purpose) != req.Status {
			return fmt.Errorf("%w: request %d no longer waits for %s handoff", ErrInvalidTransition, requestID, h.Purpose)
		}
		req.Handoff = &h
		req.Escalated = false
		req.UpdatedAt = e.now()
		tx.Put(req.ID, req)
		out = req
		return nil
	})
	if errors.Is(err, store.ErrWrite) {
		return store.Request{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, err
}

func expectedStatus(p store.HandoffPurpose) fsm.Status {
	switch p {
	case store.HandoffToSC:
		return fsm.StatusCourierEnRouteToSC
	case store.HandoffToClient:
		return fsm.StatusAwaitingFinalConfirm
	}
	return ""
}

// PaymentKind distinguishes the delivery prepayment from the final bill.
type PaymentKind string

const (
	PaymentDelivery PaymentKind = "delivery"
	PaymentFinal    PaymentKind = "final"
)

// AttachPaymentOrder records a created payment order. It is idempotent: an
// order already stored for the kind is kept and returned unchanged.
func (e *Engine) AttachPaymentOrder(ctx context.Context, requestID int64, kind PaymentKind, orderID, url string) (store.Request, error) {
	if err := ctx.Err(); err != nil {
		return store.Request{}, err
	}
	var out store.Request
	err := e.requests.Update(func(tx *store.Tx[store.Request]) error {
		req, err := tx.Get(requestID)
		if err != nil {
			return fmt.Errorf("%w: request %d", ErrNotFound, requestID)
		}
		switch kind {
		case PaymentDelivery:
			if req.PaymentOrderID != "" {
				out = req
				return nil
			}
			if req.Status.Terminal() || req.DeliveryCost.IsZero() {
				return fmt.Errorf("%w: delivery of request %d cannot be paid now", ErrInvalidTransition, requestID)
			}
			req.PaymentOrderID = orderID
			req.PaymentURL = url
		case PaymentFinal:
			if req.FinalPaymentOrderID != "" {
				out = req
				return nil
			}
			if req.Status != fsm.StatusAwaitingFinalPayment {
				return fmt.Errorf("%w: request %d is not awaiting payment", ErrInvalidTransition, requestID)
			}
			req.FinalPaymentOrderID = orderID
			req.FinalPaymentURL = url
		default:
			return fmt.Errorf("%w: unknown payment kind %q", ErrInvalidTransition, kind)
		}
		req.UpdatedAt = e.now()
		tx.Put(req.ID, req)
		out = req
		return nil
	})
	if errors.Is(err, store.ErrWrite) {
		return store.Request{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, err
}

// MarkDeliveryPaid flags the delivery prepayment as received.
func (e *Engine) MarkDeliveryPaid(ctx context.Context, requestID int64) (store.Request, error) {
	if err := ctx.Err(); err != nil {
		return store.Request{}, err
	}
	var out store.Request
	err := e.requests.Update(func(tx *store.Tx[store.Request]) error {
		req, err := tx.Get(requestID)
		if err != nil {
			return fmt.Errorf("%w: request %d", ErrNotFound, requestID)
		}
		out = req
		if req.DeliveryPaid {
			return nil
		}
		if req.PaymentOrderID == "" {
			return fmt.Errorf("%w: request %d has no delivery payment order", ErrInvalidTransition, requestID)
		}
		req.DeliveryPaid = true
		req.UpdatedAt = e.now()
		tx.Put(req.ID, req)
		out = req
		return nil
	})
	if errors.Is(err, store.ErrWrite) {
		return store.Request{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, err
}

// EnsureActionAllowed applies the configured button policy for a request action.
func (e *Engine) EnsureActionAllowed(requestID int64, action Action) error {
	policy, ok := e.cfg.ButtonPolicies[action]
	if !ok {
		return nil
	}
	now := e.now()

	e.pressMu.Lock()
	defer e.pressMu.Unlock()
	key := pressKey{requestID: requestID, action: action}
	state, ok := e.presses[key]
	if !ok {
		state = &buttonState{}
		e.presses[key] = state
	}
	if policy.TTL > 0 {
		if state.expiresAt.IsZero() || now.After(state.expiresAt) {
			state.count = 0
			state.expiresAt = now.Add(policy.TTL)
		}
	}
	if policy.MaxPresses > 0 && state.count >= policy.MaxPresses {
		return fmt.Errorf("%w: action %s exceeded retry limit", ErrInvalidTransition, action)
	}
	if !state.lastPress.IsZero() && now.Sub(state.lastPress) < policy.Cooldown {
		return fmt.Errorf("%w: action %s pressed too frequently", ErrInvalidTransition, action)
	}
	state.lastPress = now
	state.count++
	return nil
}
