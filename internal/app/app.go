package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/chatsync/internal/api"
	"github.com/prperemyshlev/chatsync/internal/config"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/handler"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"github.com/prperemyshlev/chatsync/internal/repository"
	"github.com/prperemyshlev/chatsync/internal/service"
	"github.com/prperemyshlev/chatsync/internal/session"
	"github.com/prperemyshlev/chatsync/internal/syncengine"
	"github.com/prperemyshlev/chatsync/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	infra  Infrastructure
	config *config.Config
	logger *zap.Logger

	repos   *repository.Repositories
	channel *realtime.Channel
	engine  *syncengine.Engine
	auth    service.AuthService
	users   service.UserService

	router *gin.Engine
	server *http.Server

	unbind      func()
	unsubscribe func()
	workers     sync.WaitGroup
	stopOnce    sync.Once
}

func NewApp(infra Infrastructure, cfg *config.Config) *App {
	logger := infra.Logger()
	repos := repository.NewRepositories(infra.Storage(), logger)
	gen := session.NewGeneration()

	var provider otelmetric.MeterProvider
	if mp := infra.MeterProvider(); mp != nil {
		provider = mp
	}

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.Timeout.Duration,
		func(ctx context.Context) string {
			if tokens := repos.Token.Get(ctx, false); tokens != nil {
				return tokens.AccessToken
			}
			return ""
		},
		logger.Named("api"),
	)

	channel := realtime.NewChannel(
		cfg.Realtime,
		realtime.NewWebsocketDialer(cfg.Realtime.HandshakeTimeout.Duration),
		observability.Meter(provider, "chatsync/realtime"),
		logger.Named("realtime"),
	)

	engine := syncengine.NewEngine(
		cfg.Sync,
		apiClient,
		channel,
		gen,
		observability.Meter(provider, "chatsync/sync"),
		logger.Named("sync"),
	)

	authService := service.NewAuthService(
		repos.User,
		repos.Token,
		apiClient,
		channel,
		engine,
		gen,
		cfg.API.Timeout.Duration,
		logger.Named("auth"),
	)

	userService := service.NewUserService(
		repos.User,
		repos.Token,
		apiClient,
		channel,
		engine,
		authService,
		gen,
		cfg.Sync.StrictUserValidation,
		logger.Named("user"),
	)

	a := &App{
		infra:   infra,
		config:  cfg,
		logger:  logger,
		repos:   repos,
		channel: channel,
		engine:  engine,
		auth:    authService,
		users:   userService,
	}

	a.unbind = engine.Bind(channel)
	a.unsubscribe = engine.Subscribe(func(change syncengine.Change) {
		logger.Debug("View changed",
			zap.Int("kind", int(change.Kind)),
			zap.String("conversation_id", change.ConversationID),
		)
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger.Named("debug")))

	setupRoutes(
		router,
		handler.NewSessionHandler(authService, userService),
		handler.NewSyncHandler(engine, channel),
		authService,
		NewHealthChecker(infra, channel),
		infra.MetricsHandler(),
	)
	a.router = router

	if cfg.Debug.Enabled {
		a.server = &http.Server{
			Addr:              cfg.Debug.Address(),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func setupRoutes(
	router *gin.Engine,
	sessionHandler *handler.SessionHandler,
	syncHandler *handler.SyncHandler,
	authService service.AuthService,
	healthChecker *HealthChecker,
	metricsHandler http.Handler,
) {
	router.GET("/metrics", observability.PrometheusHandler(metricsHandler))
	router.GET("/health", healthChecker.Handler)

	debug := router.Group("/debug")
	{
		debug.GET("/session", sessionHandler.GetSession)
		debug.POST("/session", sessionHandler.Login)
		debug.DELETE("/session", sessionHandler.Logout)
		debug.POST("/session/refresh", sessionHandler.Refresh)
		debug.GET("/channel", syncHandler.ChannelState)

		authed := debug.Group("", handler.RequireSession(authService))
		{
			authed.GET("/profile", sessionHandler.GetProfile)
			authed.PATCH("/profile", sessionHandler.UpdateProfile)

			conversations := authed.Group("/conversations")
			conversations.GET("", syncHandler.ListConversations)
			conversations.GET("/:id", syncHandler.GetConversation)
			conversations.GET("/:id/messages", syncHandler.ListMessages)
			conversations.POST("/:id/messages", syncHandler.SendMessage)
			conversations.POST("/:id/read", syncHandler.MarkRead)
			conversations.POST("/:id/votes", syncHandler.CreateVote)
			conversations.POST("/:id/messages/:messageId/reactions", syncHandler.React)
			conversations.POST("/:id/messages/:messageId/votes", syncHandler.SubmitVote)
		}
	}
}

// Bootstrap restores a persisted session, or signs in with the configured
// credentials, and loads the conversation list
func (a *App) Bootstrap(ctx context.Context) {
	switch {
	case a.auth.IsAuthenticated(ctx):
		res := a.users.GetUserData(ctx)
		if !res.Success {
			a.logger.Warn("Failed to restore session",
				zap.String("message", res.Message),
				zap.Int("error_code", res.ErrorCode),
			)
			return
		}
		a.logger.Info("Session restored", zap.String("user_id", res.Data.ID), zap.String("message", res.Message))

	case a.config.Login.HasCredentials():
		res := a.auth.Login(ctx, dto.LoginRequest{
			Phone:    a.config.Login.Phone,
			Password: a.config.Login.Password,
			OTP:      a.config.Login.OTP,
		})
		if !res.Success {
			a.logger.Warn("Login failed",
				zap.String("message", res.Message),
				zap.Int("error_code", res.ErrorCode),
			)
			return
		}
		a.logger.Info("Logged in", zap.String("user_id", res.Data.User.ID))

	default:
		a.logger.Info("No session; waiting for login")
		return
	}

	if res := a.engine.LoadConversations(ctx); !res.Success {
		a.logger.Warn("Failed to load conversations",
			zap.String("message", res.Message),
			zap.Int("error_code", res.ErrorCode),
		)
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.workers.Add(1)
	go func() {
		defer a.workers.Done()
		a.engine.Run(ctx)
	}()

	a.Bootstrap(ctx)

	errChan := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.logger.Info("Debug server starting", zap.String("address", a.server.Addr))

			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Server error", zap.Error(err))
				errChan <- err
			}
		}()
	}

	var serverErr error
	select {
	case err := <-errChan:
		a.logger.Error("Debug server failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.logger.Info("Application stopped by context")
	}
	cancel()

	if err := a.Shutdown(); err != nil {
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

// Shutdown stops the debug server, closes the realtime channel, waits for
// background work and releases the infrastructure. Only the first call has effect.
func (a *App) Shutdown() error {
	var err error
	a.stopOnce.Do(func() {
		err = a.shutdown()
	})
	return err
}

func (a *App) shutdown() error {
	a.logger.Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var serverErr error
	if a.server != nil {
		serverErr = a.server.Shutdown(ctx)
	}

	a.auth.Close()
	a.unsubscribe()
	a.unbind()
	a.channel.Close()
	a.engine.Wait()
	a.workers.Wait()

	err := errors.Join(serverErr, a.infra.Shutdown(ctx))
	if err != nil {
		a.logger.Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.logger.Info("Application exited successfully")
	return nil
}
