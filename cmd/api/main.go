package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"caretrack/api/internal/ai"
	"caretrack/api/internal/app"
	"caretrack/api/internal/authpw"
	"caretrack/api/internal/config"
	"caretrack/api/internal/docstore"
	"caretrack/api/internal/email"
	"caretrack/api/internal/gcal"
	"caretrack/api/internal/notehist"
	"caretrack/api/internal/search"
	"caretrack/api/internal/session"
	"caretrack/api/internal/store"
	"caretrack/api/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.NotesDir, 0o755); err != nil {
		log.Fatalf("failed to create notes dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// Search: Meilisearch when reachable, Postgres full-text as the fallback.
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, falling back to Postgres refresh sessions: %v", err)
		} else {
			log.Printf("Using Redis for refresh token storage")
			defer redisStore.Close()
			sessions = redisStore
		}
	}

	// Object storage for client documents. Optional.
	var docs *docstore.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		docs, err = docstore.NewService(ctx, docstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: document storage unavailable: %v", err)
			docs = nil
		}
	}

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		EnableTLS: true,
	})

	calendarService := gcal.New(dataStore, gcal.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, cfg.WebhookBaseURL)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		AuthPW:   authpw.NewService(dataStore),
		Search:   searchService,
		Docs:     docs,
		NoteHist: notehist.New(cfg.NotesDir),
		AI:       ai.NewService(cfg.OpenAIKey, cfg.OpenAIModel),
		Calendar: calendarService,
		Hub:      hub,
		Email:    mailer,
	})

	// Background calendar sync plus channel renewal.
	if calendarService.Configured() {
		scheduler, err := gcal.NewScheduler(calendarService, cfg.SyncIntervalMins)
		if err != nil {
			log.Fatalf("scheduler setup failed: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Appointment reminder mail for the next-24h window.
	if mailer.IsConfigured() {
		reminderCron := cron.New()
		_, err := reminderCron.AddFunc("@every 15m", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			sent, err := service.SendAppointmentReminders(ctx)
			if err != nil {
				log.Printf("appointment reminders failed: %v", err)
				return
			}
			if sent > 0 {
				log.Printf("sent %d appointment reminders", sent)
			}
		})
		if err != nil {
			log.Fatalf("reminder schedule setup failed: %v", err)
		}
		reminderCron.Start()
		defer reminderCron.Stop()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	wsAuth := func(r *http.Request) (string, error) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		s, err := service.SessionFromToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			return "", err
		}
		return s.UserID, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.Handler(hub, wsAuth, cfg.CORSOrigin))
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CareTrack API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
