package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stream_chat "github.com/GetStream/stream-chat-go/v5"
	"github.com/KAsare1/agriconsult-server/cmd/config"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/service/auth"
	"github.com/KAsare1/agriconsult-server/service/availability"
	"github.com/KAsare1/agriconsult-server/service/chats"
	"github.com/KAsare1/agriconsult-server/service/consultation"
	"github.com/KAsare1/agriconsult-server/service/dashboard"
	"github.com/KAsare1/agriconsult-server/service/expert"
	"github.com/KAsare1/agriconsult-server/service/health"
	"github.com/KAsare1/agriconsult-server/service/notifications"
	"github.com/KAsare1/agriconsult-server/service/payments"
	"github.com/KAsare1/agriconsult-server/service/presence"
	"github.com/KAsare1/agriconsult-server/service/scheduler"
	"github.com/KAsare1/agriconsult-server/service/ws"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

type APIServer struct {
	cfg *config.Config
	db  *gorm.DB
	log zerolog.Logger
}

func NewApiServer(cfg *config.Config, db *gorm.DB, logger zerolog.Logger) *APIServer {
	return &APIServer{cfg: cfg, db: db, log: logger}
}

// deps holds the long-lived collaborators shared by the handlers.
type deps struct {
	tokens        *utils.TokenIssuer
	uploader      *utils.Uploader
	hub           *ws.Hub
	presence      presence.Store
	notifier      *notifications.Notifier
	consultations *consultation.Service
	chat          auth.ChatTokenIssuer
	closers       []func() error
}

func (s *APIServer) buildDeps() (*deps, error) {
	d := &deps{
		tokens:   utils.NewTokenIssuer(s.cfg.SecretKey, s.cfg.TokenTTL),
		uploader: utils.NewUploader(s.cfg.UploadDir),
		hub:      ws.NewHub(s.log),
	}

	if s.cfg.RedisURL != "" {
		store, err := presence.NewRedisStore(s.cfg.RedisURL, s.cfg.PresenceTTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.presence = store
		d.closers = append(d.closers, store.Close)
		s.log.Info().Msg("presence backed by redis")
	} else {
		d.presence = presence.NewMemoryStore(s.cfg.PresenceTTL)
		s.log.Info().Msg("presence kept in memory")
	}

	var push notifications.PushSender
	if s.cfg.ExpoPushEnabled {
		push = notifications.NewExpoSender()
	}
	var mail notifications.Mailer
	if s.cfg.SMTPEnabled() {
		mail = notifications.NewSMTPMailer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass)
	}
	d.notifier = notifications.NewNotifier(s.db, s.log, d.hub, push, mail)
	d.consultations = consultation.NewService(s.db, d.notifier, s.log)

	if s.cfg.StreamEnabled() {
		client, err := stream_chat.NewClient(s.cfg.StreamAPIKey, s.cfg.StreamAPISecret)
		if err != nil {
			return nil, fmt.Errorf("create stream chat client: %w", err)
		}
		d.chat = client
	}
	return d, nil
}

// routes builds the full handler chain.
func (s *APIServer) routes(d *deps) http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	authHandler := auth.NewHandler(s.db, d.tokens, d.uploader, d.chat, s.log)
	authHandler.RegisterPublicRoutes(api)
	health.NewHandler(s.db).RegisterRoutes(api)

	protected := api.NewRoute().Subrouter()
	protected.Use(d.tokens.Middleware)

	authHandler.RegisterRoutes(protected)
	expert.NewExpertHandler(s.db, d.presence, s.log).RegisterRoutes(protected)
	availability.NewAvailabilityHandler(s.db).RegisterRoutes(protected)
	consultation.NewConsultationHandler(s.db, d.consultations).RegisterRoutes(protected)
	chats.NewChatHandler(s.db, d.notifier, d.uploader, s.log).RegisterRoutes(protected)
	payments.NewPaymentHandler(s.db, d.notifier, s.log).RegisterRoutes(protected)
	notifications.NewNotificationHandler(s.db).RegisterRoutes(protected)
	presence.NewHandler(d.presence).RegisterRoutes(protected)
	dashboard.NewDashboardHandler(s.db, s.cfg.PlatformFeePercent).RegisterRoutes(protected)

	wsRoutes := router.NewRoute().Subrouter()
	wsRoutes.Use(d.tokens.Middleware)
	ws.NewHandler(d.hub, d.presence, s.cfg.CORSOrigins).RegisterRoutes(wsRoutes)

	router.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir))),
	)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", utils.UserIDHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(s.cfg.IsDev()),
	)
	return utils.RequestLogger(s.log, recovery(cors(router)))
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(v...))
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *APIServer) Run(ctx context.Context) error {
	d, err := s.buildDeps()
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range d.closers {
			if err := closeFn(); err != nil {
				s.log.Error().Err(err).Msg("close dependency")
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.routes(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sweeper scheduler.Sweeper
	if mem, ok := d.presence.(*presence.MemoryStore); ok {
		sweeper = mem
	}
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	worker := scheduler.NewWorker(d.consultations, sweeper, s.cfg.WorkerInterval, s.cfg.ReminderLead, s.log)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(workerCtx)
		close(workerDone)
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Str("env", s.cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("http shutdown")
	}

	stopWorker()
	<-workerDone
	d.hub.Close()
	d.notifier.Wait()
	return nil
}
