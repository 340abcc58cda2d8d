package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confchat/internal/config"
	"github.com/confchat/internal/handler"
	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/middleware"
	"github.com/confchat/internal/model"
	"github.com/confchat/internal/push"
	"github.com/confchat/internal/repository"
	"github.com/confchat/internal/startup"
	"github.com/confchat/internal/storage"
	"github.com/confchat/internal/storage/memory"
	"github.com/confchat/internal/storage/redis"
	"github.com/confchat/internal/ws"
	"github.com/confchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory sessions (no external services required)")
	flag.Parse()

	logger.Info("starting chat API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	logger.Info("database connected, migrations applied")

	sessions := openSessionStore(cfg, *dev)
	defer sessions.Close()

	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	pushRepo := repository.NewPushRepository(pool)

	var pushSender *push.Sender
	var vapidPublic string
	if cfg.PushSubject != "" {
		keys, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("vapid keys: %v (push disabled)", err)
		} else {
			vapidPublic = keys.PublicKey
			pushSender = push.NewSender(keys, cfg.PushSubject, pushRepo)
		}
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(&hubBackend{chats: chatRepo, msgs: msgRepo}, cfg.MaxWSConnections, notifier(pushSender))

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	authH := handler.NewAuthHandler(userRepo, sessions)
	chatH := handler.NewChatHandler(chatRepo, msgRepo)
	userH := handler.NewUserHandler(userRepo)
	pushH := handler.NewPushHandler(pushRepo, vapidPublic)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins, cfg.WSSendBufferSize)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/api/auth/login", authH.Login)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))
		r.Get("/api/users", userH.GetUsers)
		r.Get("/api/chats", chatH.GetChats)
		r.Get("/api/chats/{userId}", chatH.GetChatWith)
		r.Get("/api/push/key", pushH.GetPublicKey)
		r.Post("/api/push/subscriptions", pushH.Subscribe)
		r.Delete("/api/push/subscriptions", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
}

// hubBackend adapts the repositories to the hub's persistence surface.
type hubBackend struct {
	chats *repository.ChatRepository
	msgs  *repository.MessageRepository
}

func (b *hubBackend) EnsurePersonalChat(ctx context.Context, senderID, receiverID int64) (int64, bool, error) {
	return b.chats.EnsurePersonal(ctx, senderID, receiverID)
}

func (b *hubBackend) SaveMessage(ctx context.Context, chatID, senderID int64, content string, at time.Time) (model.Message, error) {
	return b.msgs.Create(ctx, chatID, senderID, content, at)
}

// notifier avoids storing a typed nil *push.Sender in the hub's interface field.
func notifier(s *push.Sender) ws.Notifier {
	if s == nil {
		return nil
	}
	return s
}

// openSessionStore connects to Redis, falling back to the in-memory store in
// dev mode or when no Redis is configured.
func openSessionStore(cfg *config.Config, dev bool) storage.SessionStore {
	if dev || cfg.RedisURL == "" {
		logger.Info("sessions: in-memory store")
		return memory.New()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cli, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Errorf("sessions: redis unavailable (%v), falling back to in-memory store", err)
		return memory.New()
	}
	logger.Info("sessions: redis store")
	return cli
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "confchat"
		password = "confchat_secret"
		database = "confchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
