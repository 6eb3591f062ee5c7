package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/history"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/pay"
	"repairBack/internal/repair/store"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type fakeWorkflow struct {
	requests  []store.Request
	tasks     []store.DeliveryTask
	handleErr error
	callbacks []pay.Callback
	cbErr     error
	commands  []lifecycle.Command
}

func (f *fakeWorkflow) Request(id int64) (store.Request, error) {
	for _, r := range f.requests {
		if r.ID == id {
			return r, nil
		}
	}
	return store.Request{}, fmt.Errorf("%w: request %d", lifecycle.ErrNotFound, id)
}

func (f *fakeWorkflow) Requests(filter func(store.Request) bool) []store.Request {
	var out []store.Request
	for _, r := range f.requests {
		if filter == nil || filter(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeWorkflow) Tasks(filter func(store.DeliveryTask) bool) []store.DeliveryTask {
	var out []store.DeliveryTask
	for _, t := range f.tasks {
		if filter == nil || filter(t) {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeWorkflow) History(context.Context, int64) ([]history.Entry, error) { return nil, nil }

func (f *fakeWorkflow) Handle(_ context.Context, cmd lifecycle.Command) (lifecycle.Result, error) {
	f.commands = append(f.commands, cmd)
	if f.handleErr != nil {
		return lifecycle.Result{}, f.handleErr
	}
	return lifecycle.Result{Request: store.Request{ID: cmd.RequestID}, Event: cmd.Event, Actor: cmd.Actor}, nil
}

func (f *fakeWorkflow) PaymentCallback(_ context.Context, cb pay.Callback) error {
	f.callbacks = append(f.callbacks, cb)
	return f.cbErr
}

func (f *fakeWorkflow) SetRole(_ context.Context, userID int64, role fsm.Role, scID int64) (store.User, error) {
	return store.User{ID: userID, Role: role}, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T, flow *fakeWorkflow) *httptest.Server {
	t.Helper()
	parser := pay.NewClient(nil, "http://gateway.invalid", "m-1", "secret", "", "BYN")
	srv := NewServer(nopLogger{}, flow, parser, nil)

	asAdmin := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), 1)))
		})
	}
	mux := pat.New()
	srv.Register(mux, alice.New(asAdmin), alice.New())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestListRequestsFiltersByStatus(t *testing.T) {
	flow := &fakeWorkflow{requests: []store.Request{
		{ID: 1, Status: fsm.StatusNew},
		{ID: 2, Status: fsm.StatusInSC},
		{ID: 3, Status: fsm.StatusNew},
	}}
	ts := newTestServer(t, flow)

	resp, err := http.Get(ts.URL + "/api/v1/repair/requests?status=new")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out requestListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 2 || out.Items[0].ID != 3 || out.Items[1].ID != 1 {
		t.Fatalf("unexpected listing %+v", out)
	}
}

func TestListRequestsRejectsBadQuery(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{})
	for _, q := range []string{"status=BOGUS", "limit=0", "offset=-1", "user_id=x"} {
		t.Run(q, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/v1/repair/requests?" + q)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
		})
	}
}

func TestGetRequestNotFound(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{})
	resp, err := http.Get(ts.URL + "/api/v1/repair/requests/42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetRequestIncludesTasksAndAllowedEvents(t *testing.T) {
	flow := &fakeWorkflow{
		requests: []store.Request{{ID: 5, Status: fsm.StatusNew}},
		tasks:    []store.DeliveryTask{{ID: 1, RequestID: 5}, {ID: 2, RequestID: 6}},
	}
	ts := newTestServer(t, flow)
	resp, err := http.Get(ts.URL + "/api/v1/repair/requests/5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out requestDetails
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Tasks) != 1 || out.Tasks[0].ID != 1 {
		t.Fatalf("tasks = %+v", out.Tasks)
	}
	if len(out.Allowed) == 0 {
		t.Fatalf("expected allowed events for NEW")
	}
}

func TestRequestEventUsesAdminActor(t *testing.T) {
	flow := &fakeWorkflow{}
	ts := newTestServer(t, flow)

	body := `{"event":"admin_send_to_sc","version":2,"sc_id":7}`
	resp, err := http.Post(ts.URL+"/api/v1/repair/requests/9/events", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(flow.commands) != 1 {
		t.Fatalf("commands = %d", len(flow.commands))
	}
	cmd := flow.commands[0]
	if cmd.RequestID != 9 || cmd.SCID != 7 || cmd.Version != 2 || cmd.Actor.Role != fsm.RoleAdmin || cmd.Actor.ID != 1 {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestRequestEventErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", lifecycle.ErrNotFound, http.StatusNotFound},
		{"stale", fmt.Errorf("%w: version", lifecycle.ErrInvalidTransition), http.StatusConflict},
		{"gateway", lifecycle.ErrExternal, http.StatusBadGateway},
		{"disk", lifecycle.ErrPersistence, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeWorkflow{handleErr: tt.err})
			resp, err := http.Post(ts.URL+"/api/v1/repair/requests/1/events", "application/json", strings.NewReader(`{"event":"admin_reject"}`))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRequestEventValidatesBody(t *testing.T) {
	flow := &fakeWorkflow{}
	ts := newTestServer(t, flow)
	for _, body := range []string{`{`, `{"version":1}`, `{"event":"admin_reject","version":-1}`} {
		resp, err := http.Post(ts.URL+"/api/v1/repair/requests/1/events", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, resp.StatusCode)
		}
	}
	if len(flow.commands) != 0 {
		t.Fatalf("invalid bodies reached the workflow")
	}
}

func TestPaymentCallbackChecksSignature(t *testing.T) {
	flow := &fakeWorkflow{}
	ts := newTestServer(t, flow)
	body := []byte(`{"order_id":"ord-1","state":"PAID"}`)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/repair/payments/callback", strings.NewReader(string(body)))
	req.Header.Set(SignatureHeader, "00ff")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/v1/repair/payments/callback", strings.NewReader(string(body)))
	req.Header.Set(SignatureHeader, sign(body, "secret"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(flow.callbacks) != 1 || flow.callbacks[0].OrderID != "ord-1" {
		t.Fatalf("callbacks = %+v", flow.callbacks)
	}
}

func TestFSMTableEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{})
	resp, err := http.Get(ts.URL + "/api/v1/repair/fsm")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Statuses    []fsm.Status                        `json:"statuses"`
		Transitions map[fsm.Status]map[fsm.Event]fsm.Rule `json:"transitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rule, ok := out.Transitions[fsm.StatusNew][fsm.EventAdminSendToSC]
	if !ok || rule.Next != fsm.StatusSentToSC {
		t.Fatalf("NEW/admin_send_to_sc = %+v", rule)
	}
}
