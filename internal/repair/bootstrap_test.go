package repair

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/pat"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/justinas/alice"

	repairhttp "repairBack/internal/repair/http"
	"repairBack/internal/repair/notify"
	"repairBack/internal/repair/store"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type recordingClient struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (c *recordingClient) record(chatID int64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = make(map[int64][]string)
	}
	c.sent[chatID] = append(c.sent[chatID], text)
}

func (c *recordingClient) count(chatID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent[chatID])
}

func (c *recordingClient) SendMessage(_ context.Context, chatID int64, text string, _ notify.Keyboard) (int, error) {
	c.record(chatID, text)
	return 1, nil
}
func (c *recordingClient) SendPhoto(_ context.Context, chatID int64, _, caption string) error {
	c.record(chatID, caption)
	return nil
}
func (c *recordingClient) EditMessage(context.Context, int64, int, string, notify.Keyboard) error {
	return nil
}
func (c *recordingClient) AnswerCallback(context.Context, string, string) error { return nil }
func (c *recordingClient) AskContact(_ context.Context, chatID int64, text string) error {
	c.record(chatID, text)
	return nil
}
func (c *recordingClient) AskLocation(_ context.Context, chatID int64, text string) error {
	c.record(chatID, text)
	return nil
}
func (c *recordingClient) ClearKeyboard(_ context.Context, chatID int64, text string) error {
	c.record(chatID, text)
	return nil
}

func testDeps(t *testing.T) (*Deps, *recordingClient) {
	t.Helper()
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Payment, cfg.SMS, cfg.BackupCron = PaymentConfig{}, SMSConfig{}, ""
	client := &recordingClient{}
	return &Deps{
		Config:         cfg,
		Logger:         nopLogger{},
		Messenger:      client,
		Admins:         []int64{1},
		Couriers:       []int64{2},
		Categories:     []string{"Телефон"},
		ServiceCenters: []store.ServiceCenter{{ID: 10, Name: "Fix", Phone: "+375290000010"}},
	}, client
}

func TestValidateRequiresCollaborators(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"messenger", func(d *Deps) { d.Messenger = nil }},
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"data dir", func(d *Deps) { d.Config.DataDir = "" }},
		{"admins", func(d *Deps) { d.Admins = nil }},
		{"driver", func(d *Deps) { d.DB = new(sql.DB); d.DBDriver = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := testDeps(t)
			tt.mutate(deps)
			if err := deps.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateDefaultsHTTPClient(t *testing.T) {
	deps, _ := testDeps(t)
	if err := deps.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if deps.HTTPClient == nil || deps.HTTPClient.Timeout != deps.Config.ExternalTimeout {
		t.Fatalf("http client not defaulted: %+v", deps.HTTPClient)
	}
}

func TestRegisterRoutesServesSeededModule(t *testing.T) {
	deps, _ := testDeps(t)
	mux := pat.New()
	admin := alice.New(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(repairhttp.WithAdmin(r.Context(), 1)))
		})
	})
	if err := RegisterRepairRoutes(context.Background(), mux, admin, alice.New(), deps); err != nil {
		t.Fatalf("register: %v", err)
	}
	first := deps.module
	if err := RegisterRepairRoutes(context.Background(), pat.New(), admin, alice.New(), deps); err != nil {
		t.Fatalf("second register: %v", err)
	}
	if deps.module != first {
		t.Fatalf("module was rebuilt")
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/repair/requests", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/repair/payments/callback", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("callback without gateway = %d", rr.Code)
	}

	if _, err := deps.module.stores.ServiceCenters.Get(10); err != nil {
		t.Fatalf("service center not seeded: %v", err)
	}
}

func TestWorkersRunBotLoop(t *testing.T) {
	deps, client := testDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan tgbotapi.Update, 1)
	if err := StartRepairWorkers(ctx, deps, updates); err != nil {
		t.Fatalf("start workers: %v", err)
	}
	updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     "/start",
		Chat:     &tgbotapi.Chat{ID: 7},
		From:     &tgbotapi.User{ID: 7, FirstName: "Ann"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}}
	close(updates)

	deadline := time.Now().Add(2 * time.Second)
	for client.count(7) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.count(7) == 0 {
		t.Fatalf("bot did not answer /start")
	}
}

func TestWorkersRequireBucketForBackups(t *testing.T) {
	deps, _ := testDeps(t)
	deps.Config.BackupCron = "@daily"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := StartRepairWorkers(ctx, deps, make(chan tgbotapi.Update)); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
