package repair

import (
	"context"
	"fmt"

	"github.com/bmizerany/pat"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/justinas/alice"

	"repairBack/internal/repair/backup"
	"repairBack/internal/repair/bot"
	"repairBack/internal/repair/handoff"
	"repairBack/internal/repair/history"
	repairhttp "repairBack/internal/repair/http"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/notify"
	"repairBack/internal/repair/pay"
	"repairBack/internal/repair/sms"
	"repairBack/internal/repair/store"
	"repairBack/internal/repair/timeutil"
	"repairBack/internal/repair/workflow"
	"repairBack/internal/repair/ws"
)

type moduleState struct {
	stores   *store.Stores
	service  *workflow.Service
	hub      *ws.Hub
	server   *repairhttp.Server
	frontend *bot.Bot
}

func ensureModule(ctx context.Context, deps *Deps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}
	cfg := deps.Config

	stores, err := store.OpenStores(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("repair: open stores: %w", err)
	}
	if err := stores.SeedServiceCenters(deps.ServiceCenters); err != nil {
		return nil, fmt.Errorf("repair: seed service centers: %w", err)
	}

	lcfg := lifecycle.DefaultConfig()
	lcfg.MaxCodeAttempts = cfg.MaxCodeAttempts
	lcfg.DenyLimit = cfg.DenyLimit
	lcfg.Tariff = cfg.Tariff
	engine := lifecycle.NewEngine(lcfg, stores.Requests, stores.Tasks, stores.ServiceCenters, timeutil.Now)

	dispatcher := notify.NewDispatcher(deps.Messenger, deps.Logger)
	dir := notify.NewStoreDirectory(stores, deps.Admins, deps.Couriers)

	var otp handoff.OTPSender
	if cfg.SMS.BaseURL != "" {
		otp = sms.NewClient(deps.HTTPClient, cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Sender)
	}
	issuer := handoff.NewIssuer(otp, dispatcher, deps.Logger, cfg.CodeLength,
		handoff.WithTimeout(cfg.ExternalTimeout), handoff.WithClock(timeutil.Now))

	var (
		payments workflow.Payments
		parser   repairhttp.CallbackParser
	)
	if cfg.Payment.Enabled() {
		client := pay.NewClient(deps.HTTPClient, cfg.Payment.BaseURL, cfg.Payment.MerchantID, cfg.Payment.Secret, cfg.Payment.CallbackURL, cfg.Currency)
		payments, parser = client, client
	} else {
		deps.Logger.Infof("repair: payment gateway is not configured, final payments are disabled")
	}

	var sessions bot.Sessions = bot.NewMemorySessions()
	if deps.RDB != nil {
		sessions = bot.NewRedisSessions(deps.RDB, cfg.SessionTTL)
	}

	var recorder history.Recorder = history.Noop{}
	if deps.DB != nil {
		repo := history.NewRepo(deps.DB, deps.DBDriver)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("repair: migrate history: %w", err)
		}
		recorder = repo
	}

	service := workflow.New(workflow.Deps{
		Engine:    engine,
		Stores:    stores,
		Issuer:    issuer,
		Payments:  payments,
		Sender:    dispatcher,
		Directory: dir,
		Planner:   notify.Planner{Currency: cfg.Currency},
		Chats:     sessions,
		History:   recorder,
		Logger:    deps.Logger,
		Timeout:   cfg.ExternalTimeout,
		Admins:    deps.Admins,
		Couriers:  deps.Couriers,
		Now:       timeutil.Now,
	})
	hub := ws.NewHub(deps.Logger)
	service.Subscribe(hub.Observe)

	deps.module = &moduleState{
		stores:   stores,
		service:  service,
		hub:      hub,
		server:   repairhttp.NewServer(deps.Logger, service, parser, hub),
		frontend: bot.New(deps.Messenger, service, sessions, dir, bot.Config{Categories: deps.Categories, Currency: cfg.Currency, Workers: cfg.BotWorkers}, deps.Logger),
	}
	return deps.module, nil
}

// RegisterRepairRoutes wires the admin API, webhook and live feed into the mux.
func RegisterRepairRoutes(ctx context.Context, mux *pat.PatternServeMux, admin, public alice.Chain, deps *Deps) error {
	module, err := ensureModule(ctx, deps)
	if err != nil {
		return err
	}
	module.server.Register(mux, admin, public)
	return nil
}

// StartRepairWorkers launches the chat loop and the backup schedule.
func StartRepairWorkers(ctx context.Context, deps *Deps, updates <-chan tgbotapi.Update) error {
	module, err := ensureModule(ctx, deps)
	if err != nil {
		return err
	}
	go module.frontend.Run(ctx, updates)

	if deps.Config.BackupCron == "" {
		return nil
	}
	client, err := backup.NewS3Client(deps.Config.BackupS3)
	if err != nil {
		return err
	}
	uploader := backup.NewUploader(client, deps.Config.BackupS3.Bucket, module.stores.Files)
	scheduler, err := backup.Schedule(deps.Config.BackupCron, uploader, 0, deps.Logger)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		<-scheduler.Stop().Done()
	}()
	deps.Logger.Infof("repair: store backups scheduled %q", deps.Config.BackupCron)
	return nil
}
