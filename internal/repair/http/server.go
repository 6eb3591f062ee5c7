package http

import (
	"context"
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/go-playground/validator/v10"
	"github.com/justinas/alice"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/history"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/pay"
	"repairBack/internal/repair/store"
)

// Logger captures the logging contract required by the server.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Workflow is the part of the repair workflow exposed over HTTP.
type Workflow interface {
	Request(id int64) (store.Request, error)
	Requests(filter func(store.Request) bool) []store.Request
	Tasks(filter func(store.DeliveryTask) bool) []store.DeliveryTask
	History(ctx context.Context, requestID int64) ([]history.Entry, error)
	Handle(ctx context.Context, cmd lifecycle.Command) (lifecycle.Result, error)
	PaymentCallback(ctx context.Context, cb pay.Callback) error
	SetRole(ctx context.Context, userID int64, role fsm.Role, scID int64) (store.User, error)
}

// CallbackParser verifies and decodes payment gateway notifications.
type CallbackParser interface {
	ParseCallback(body []byte, signature string) (pay.Callback, error)
}

// Feed serves the live admin websocket.
type Feed interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Signature"

// Server provides HTTP handlers for the repair domain.
type Server struct {
	logger   Logger
	flow     Workflow
	payments CallbackParser
	feed     Feed
	validate *validator.Validate
}

// NewServer constructs a Server instance. payments and feed may be nil.
func NewServer(logger Logger, flow Workflow, payments CallbackParser, feed Feed) *Server {
	return &Server{
		logger:   logger,
		flow:     flow,
		payments: payments,
		feed:     feed,
		validate: validator.New(),
	}
}

// Register mounts repair routes. admin guards the back-office endpoints,
// public wraps the gateway webhook.
func (s *Server) Register(mux *pat.PatternServeMux, admin, public alice.Chain) {
	mux.Get("/api/v1/repair/requests", admin.ThenFunc(s.handleListRequests))
	mux.Get("/api/v1/repair/requests/:id", admin.ThenFunc(s.handleGetRequest))
	mux.Post("/api/v1/repair/requests/:id/events", admin.ThenFunc(s.handleRequestEvent))
	mux.Get("/api/v1/repair/tasks", admin.ThenFunc(s.handleListTasks))
	mux.Get("/api/v1/repair/fsm", admin.ThenFunc(s.handleTable))
	mux.Put("/api/v1/repair/users/:id/role", admin.ThenFunc(s.handleSetRole))
	mux.Post("/api/v1/repair/payments/callback", public.ThenFunc(s.handlePaymentCallback))
	if s.feed != nil {
		mux.Get("/ws/admin", admin.ThenFunc(s.feed.ServeWS))
	}
}

type adminKey struct{}

// WithAdmin stores the authenticated admin id in ctx.
func WithAdmin(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, adminKey{}, id)
}

// AdminFrom returns the admin id stored by WithAdmin.
func AdminFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(adminKey{}).(int64)
	return id, ok && id != 0
}
