package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"

	"github.com/Rod082213/teams-clone/config"
	"github.com/Rod082213/teams-clone/handlers"
	"github.com/Rod082213/teams-clone/repository"
	"github.com/Rod082213/teams-clone/services"
	"github.com/Rod082213/teams-clone/storage"
	"github.com/Rod082213/teams-clone/utils"
	"github.com/Rod082213/teams-clone/ws"
)

func main() {
	// --- config/env ---
	cfg := config.Load()
	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	log.Info().Str("port", cfg.Port).Msg("starting chat server")

	// --- storage ---
	db, err := repository.Open(cfg.DBPath, cfg.DBDebug)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open database")
	}
	store, err := storage.NewLocalStore(cfg.UploadDir, cfg.UploadBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("could not prepare upload dir")
	}

	userRepo := repository.NewGormUserRepo(db)
	chatRepo := repository.NewGormChatRepo(db)
	messageRepo := repository.NewGormMessageRepo(db)
	memberRepo := repository.NewGormMembershipRepo(db)
	receiptRepo := repository.NewGormReceiptRepo(db)
	blockRepo := repository.NewGormBlockRepo(db)

	// --- websocket hub ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub(cfg.SendBuffer, log)
	go hub.Run(ctx)

	// --- services ---
	authSvc := services.NewAuthService(userRepo, &cfg)
	chatSvc := services.NewChatService(chatRepo, userRepo, messageRepo, memberRepo, blockRepo, hub)
	msgSvc := services.NewMessageService(messageRepo, chatRepo, memberRepo, blockRepo, hub, &cfg, log)
	receiptSvc := services.NewReceiptService(receiptRepo, messageRepo, userRepo, hub, log)
	uploadSvc := services.NewUploadService(store, cfg.MaxUploadBytes, log)
	profileSvc := services.NewProfileService(userRepo, uploadSvc)
	blockSvc := services.NewBlockService(blockRepo, userRepo)

	// --- handlers ---
	router := ws.NewRouter(hub, authSvc, chatSvc, msgSvc, receiptSvc, cfg.AllowedOrigins, log)
	engine := handlers.NewEngine(
		handlers.RouteConfig{AllowedOrigins: cfg.AllowedOrigins, UploadDir: cfg.UploadDir},
		log,
		authSvc,
		handlers.NewAuthHandler(authSvc),
		handlers.NewChatHandler(router, chatSvc, authSvc),
		handlers.NewMessageHandler(msgSvc, uploadSvc, cfg.MaxUploadBytes),
		handlers.NewUserHandler(profileSvc, blockSvc, authSvc),
	)

	// --- server setup ---
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     engine,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Msgf("chat server running on http://localhost:%s", cfg.Port)
		log.Info().Msgf("WS endpoint: ws://localhost:%s/ws?token=<token>", cfg.Port)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	// --- graceful shutdown ---
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(shutdownCtx context.Context) error {
				log.Info().Msg("shutting down server")
				// stop accepting requests first, then drain the hub and
				// pending recency updates before the database goes away
				err := server.Shutdown(shutdownCtx)
				cancel()
				hub.Close()
				hub.Wait()
				msgSvc.Wait()
				return errors.Join(err, repository.Close(db))
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("server exited")
	os.Exit(exitCode)
}
