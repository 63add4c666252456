package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"health-companion/internal/agent"
	"health-companion/internal/chat"
	"health-companion/internal/config"
	"health-companion/internal/conversation"
	"health-companion/internal/logging"
	"health-companion/internal/platform/indexer"
	"health-companion/internal/platform/push"
	"health-companion/internal/platform/telegram"
	"health-companion/internal/record"
	"health-companion/internal/report"
)

func main() {
	// 1. Infrastructure
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.New(os.Getenv("DEBUG") == "1")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		log.Info("waiting for database", zap.Int("attempt", i+1))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatal("could not connect to database", zap.Error(err))
	}
	log.Info("connected to database")

	m, err := migrate.New(cfg.MigrationsDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("migration init failed", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatal("migration up failed", zap.Error(err))
	}
	log.Info("migrations applied")

	// 2. Clients
	ctx := context.Background()
	chatModel, err := agent.NewChatModel(ctx, cfg)
	if err != nil {
		log.Fatal("failed to create chat model", zap.Error(err))
	}

	hub := push.NewHub(log.Named("push"))

	var idx chat.Indexer
	if cfg.IndexerURL != "" {
		idx = indexer.NewClient(cfg.IndexerURL)
	} else {
		log.Warn("INDEXER_URL is not set; messages will not be indexed")
	}

	var handoff chat.HandoffService
	if cfg.TelegramBotToken != "" && cfg.CareTeamChatID != 0 {
		tgClient := telegram.NewClient(cfg.TelegramBotToken)
		handoff = report.NewService(tgClient, cfg.CareTeamChatID)
	} else {
		log.Warn("care handoff disabled; TELEGRAM_BOT_TOKEN or CARE_TEAM_CHAT_ID missing")
	}

	// 3. Services
	store := record.NewStore(db)
	convRepo := conversation.NewRepository(db)
	hydrator := chat.NewHydrator(store, cfg.EpisodeWindow, cfg.FindingWindow)
	recon := chat.NewReconciler(store, cfg.DiffWindow)
	parser := chat.NewParser(log.Named("parser"))
	loop := agent.NewLoop(chatModel, cfg.LLMMaxSteps, log.Named("agent"))

	svc := chat.NewService(convRepo, store, hydrator, recon, parser, loop, hub, idx, handoff, log.Named("chat"))
	handler := chat.NewHandler(svc)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		chat.RegisterRoutes(r, handler)
		r.Get("/ws", hub.HandleWS)
	})

	log.Info("server starting", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
