package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-engine/internal/auth"
	"chat-engine/internal/config"
	"chat-engine/internal/db"
	"chat-engine/internal/grpcserver"
	"chat-engine/internal/handlers"
	"chat-engine/internal/middleware"
	"chat-engine/internal/observability"
	"chat-engine/internal/profiles"
	"chat-engine/internal/rabbitmq"
	"chat-engine/internal/repositories"
	"chat-engine/internal/services"
	"chat-engine/internal/telemetry"
	"chat-engine/internal/ws"
)

const (
	profileCacheSize = 4096
	profileCacheTTL  = 5 * time.Minute
	healthInterval   = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, observability.RouteAudit, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment)
	log.Printf("publisher mode=%s", rabbitmq.PublisherMode(publisher))

	store := repositories.NewStore(database)
	lookup := profiles.NewLookup(store, profileCacheSize, profileCacheTTL)
	service := services.NewConversationService(store, lookup, nil)
	hub := ws.NewHub(service, ws.OptionsFromConfig(cfg))
	tokens := auth.NewJWTValidator(cfg.Auth.JWTSecret)

	router := gin.New()
	router.Use(
		gin.Logger(),
		gin.Recovery(),
		middleware.RequestID(),
		otelgin.Middleware(cfg.Telemetry.ServiceName),
		observability.HTTPMetricsMiddleware(),
	)
	registerRoutes(router, routeDeps{
		cfg:       cfg,
		database:  database,
		service:   service,
		hub:       hub,
		tokens:    tokens,
		audit:     audit,
		publisher: publisher,
	})

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			AllowCredentials: true,
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var health *grpcserver.HealthServer
	if cfg.Server.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			log.Fatalf("failed to listen grpc health: %v", err)
		}
		health = grpcserver.NewHealthServer(cfg.Telemetry.ServiceName, database, healthInterval)
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Printf("grpc health stopped: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("chat engine listening port=%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// websocket connections are hijacked and not covered by Shutdown
	hub.Close()
	if health != nil {
		health.Stop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}

var _ handlers.Realtime = (*ws.Hub)(nil)

type routeDeps struct {
	cfg       *config.Config
	database  *sqlx.DB
	service   services.Service
	hub       *ws.Hub
	tokens    auth.TokenValidator
	audit     *telemetry.AuditEmitter
	publisher rabbitmq.Publisher
}

func registerRoutes(router *gin.Engine, d routeDeps) {
	conversations := handlers.NewConversationHandler(d.service, d.hub)
	groups := handlers.NewGroupHandler(d.service, d.hub, d.audit)
	presence := handlers.NewPresenceHandler(d.hub)

	router.GET("/healthz", func(c *gin.Context) {
		if err := d.database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", ws.NewHandler(d.hub, d.tokens, d.cfg.Server.AllowedOrigins).Handle)

	api := router.Group("/", middleware.AuthMiddleware(d.tokens))
	api.GET("/conversations", conversations.ListConversations)
	api.POST("/conversations/direct", conversations.StartDirect)
	api.GET("/conversations/:conversation_id/messages", conversations.ListMessages)
	api.POST("/conversations/:conversation_id/messages", conversations.PostMessage)
	api.POST("/conversations/:conversation_id/read", conversations.MarkRead)

	api.POST("/groups", groups.CreateGroup)
	api.GET("/groups/search", groups.SearchGroups)
	api.GET("/groups/:group_id", groups.GetGroup)
	api.PATCH("/groups/:group_id", groups.UpdateGroup)
	api.POST("/groups/:group_id/join", groups.JoinGroup)
	api.POST("/groups/:group_id/leave", groups.LeaveGroup)
	api.POST("/groups/:group_id/members", groups.AddMembers)
	api.DELETE("/groups/:group_id/members/:user_id", groups.RemoveMember)

	api.GET("/presence", presence.Statuses)

	handlers.RegisterDebugRoutes(api, d.audit, d.publisher, d.cfg.Server.DebugRoutes)
}
