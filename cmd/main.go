package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"repairBack/internal/config"
	"repairBack/internal/repair"
	"repairBack/internal/repair/bot"
	"repairBack/internal/repair/history"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	repairCfg, err := repair.LoadConfig()
	if err != nil {
		logger.Fatalf("load repair config: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Address
	} else {
		port = ":" + port
	}
	addr := flag.String("addr", port, "HTTP network address")
	issueToken := flag.Int64("issue-admin-token", 0, "print an access token for the given admin id and exit")
	flag.Parse()

	if *issueToken != 0 {
		app := &application{jwtSecret: []byte(cfg.Auth.JWTSecret), admins: cfg.Directory.Admins}
		if !app.isAdmin(*issueToken) {
			logger.Fatalf("%d is not listed in directory.admins", *issueToken)
		}
		token, err := generateAdminToken(app.jwtSecret, *issueToken, 30*24*time.Hour)
		if err != nil {
			logger.Fatalf("issue token: %v", err)
		}
		os.Stdout.WriteString(token + "\n")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = history.Open(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			logger.Fatalf("open history db: %v", err)
		}
		defer db.Close()
	} else {
		logger.Infof("database is not configured, status history is disabled")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("connect redis: %v", err)
		}
		defer rdb.Close()
	} else {
		logger.Infof("redis is not configured, sessions are kept in memory")
	}

	if repairCfg.TelegramToken == "" {
		logger.Fatalf("TELEGRAM_BOT_TOKEN is required")
	}
	api, err := tgbotapi.NewBotAPI(repairCfg.TelegramToken)
	if err != nil {
		logger.Fatalf("connect telegram: %v", err)
	}
	logger.Infof("authorized as @%s", api.Self.UserName)

	deps := &repair.Deps{
		DB:             db,
		DBDriver:       cfg.Database.Driver,
		RDB:            rdb,
		Messenger:      bot.NewTelegramMessenger(api),
		Logger:         logger,
		Config:         repairCfg,
		Admins:         cfg.Directory.Admins,
		Couriers:       cfg.Directory.Couriers,
		Categories:     cfg.Directory.Categories,
		ServiceCenters: cfg.Directory.ServiceCenters,
	}

	app := &application{
		logger:    logger,
		jwtSecret: []byte(cfg.Auth.JWTSecret),
		admins:    cfg.Directory.Admins,
	}
	handler, err := app.routes(ctx, deps)
	if err != nil {
		logger.Fatalf("register routes: %v", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)
	if err := repair.StartRepairWorkers(ctx, deps, updates); err != nil {
		logger.Fatalf("start workers: %v", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         *addr,
		ErrorLog:     zap.NewStdLog(zl),
		Handler:      c.Handler(handler),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	api.StopReceivingUpdates()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
}
