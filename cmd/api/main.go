package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"

	"github.com/kazilink/kazilink-api/internal/config"
	"github.com/kazilink/kazilink-api/internal/db"
	"github.com/kazilink/kazilink-api/internal/handlers"
	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/realtime"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/repository/gormstore"
	"github.com/kazilink/kazilink-api/internal/repository/memory"
	"github.com/kazilink/kazilink-api/internal/services/chatsync"
	"github.com/kazilink/kazilink-api/internal/services/identity"
	"github.com/kazilink/kazilink-api/internal/services/tasks"
	"github.com/kazilink/kazilink-api/internal/session"
)

type stores struct {
	users repository.UserStore
	tasks repository.TaskStore
	chat  repository.ChatStore
	close func() error
}

func openStores(cfg config.Config, log *slog.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store; data is lost on restart", "action", "store_memory")
		m := memory.NewStore()
		return stores{users: m, tasks: m, chat: m, close: func() error { return nil }}, nil
	}

	gdb, err := db.Connect(cfg.DBDSN, log)
	if err != nil {
		return stores{}, err
	}
	if err := db.Migrate(gdb); err != nil {
		return stores{}, err
	}
	return stores{
		users: gormstore.NewUserStore(gdb),
		tasks: gormstore.NewTaskStore(gdb),
		chat:  gormstore.NewChatStore(gdb),
		close: func() error { return db.Close(gdb) },
	}, nil
}

// buildSinks returns the enabled notification sinks and the ones that need
// closing after the dispatcher drains.
func buildSinks(ctx context.Context, cfg config.Config, hub *realtime.Hub, idp *identity.Client, log *slog.Logger) ([]realtime.Sink, []io.Closer) {
	var sinks []realtime.Sink
	var closers []io.Closer

	for _, name := range cfg.NotifySinks {
		switch name {
		case "hub":
			sinks = append(sinks, realtime.NewHubSink(hub))

		case "redis":
			rdb := realtime.NewRedis(realtime.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			if err := rdb.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, sink disabled", "action", "sink_disabled", "sink", name, logging.Err(err))
				_ = rdb.Close()
				continue
			}
			sinks = append(sinks, realtime.NewRedisSink(rdb))
			closers = append(closers, rdb)

		case "provider":
			if cfg.IDPURL == "" {
				log.Warn("identity provider not configured, sink disabled", "action", "sink_disabled", "sink", name)
				continue
			}
			sinks = append(sinks, realtime.NewProviderSink(idp))

		case "amqp":
			if cfg.AMQPURL == "" {
				log.Warn("AMQP_URL empty, sink disabled", "action", "sink_disabled", "sink", name)
				continue
			}
			s, err := realtime.DialAMQP(ctx, cfg.AMQPURL, cfg.AMQPQueue, log)
			if err != nil {
				log.Warn("amqp unreachable, sink disabled", "action", "sink_disabled", "sink", name, logging.Err(err))
				continue
			}
			sinks = append(sinks, s)
			closers = append(closers, s)

		case "kafka":
			if cfg.KafkaBroker == "" {
				log.Warn("KAFKA_BROKER empty, sink disabled", "action", "sink_disabled", "sink", name)
				continue
			}
			s := realtime.NewKafkaSink(cfg.KafkaBroker, cfg.KafkaTopic)
			sinks = append(sinks, s)
			closers = append(closers, s)

		default:
			log.Warn("unknown notification sink ignored", "action", "sink_unknown", "sink", name)
		}
	}
	return sinks, closers
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New("kazilink-api", cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg, log)
	if err != nil {
		log.Error("store init failed", "action", "startup_failed", logging.Err(err))
		os.Exit(1)
	}

	idp := identity.New(identity.Config{
		BaseURL:    cfg.IDPURL,
		AnonKey:    cfg.IDPAnonKey,
		ServiceKey: cfg.IDPServiceKey,
		Timeout:    cfg.RequestTimeout,
	})

	var providerTokens session.Strategy
	if cfg.IDPJWTSecret != "" {
		providerTokens = session.NewFederatedSession(cfg.IDPJWTSecret)
	}
	var strategy session.Strategy = session.NewLocalSession(cfg.JWTSecret, cfg.JWTExpiresMin)
	if cfg.SessionMode == config.SessionFederated {
		if providerTokens == nil {
			log.Error("SESSION_MODE=federated requires IDP_JWT_SECRET", "action", "startup_failed")
			os.Exit(1)
		}
		strategy = providerTokens
	}
	gw := session.NewGateway(strategy, st.users,
		session.WithAutoProvision(cfg.AutoProvision),
		session.WithLogger(log))

	hub := realtime.NewHub(log)
	go hub.Run(ctx)

	sinks, closers := buildSinks(ctx, cfg, hub, idp, log)
	dispatcher := realtime.NewDispatcher(cfg.NotifyQueueSize, log, sinks...)
	dispatcher.Start()
	log.Info("notification dispatcher started", "action", "dispatcher_started", "sinks", strings.Join(dispatcher.Sinks(), ","))

	manager := tasks.NewManager(st.tasks, st.users, dispatcher, log)
	chatSync := chatsync.NewService(st.chat, st.tasks, idp, log)

	app := fiber.New(fiber.Config{
		AppName:      "kazilink-api",
		ErrorHandler: handlers.ErrorHandler(log),
		BodyLimit:    1 << 20,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORSOrigins, ","),
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Webhook-Secret",
		ExposeHeaders:    "Content-Length",
		AllowCredentials: true,
	}))
	app.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	routes := handlers.Routes{
		Gateway: gw,
		Auth: &handlers.AuthHandler{
			Users:           st.users,
			Gateway:         gw,
			Provider:        providerTokens,
			IDP:             idp,
			Expires:         cfg.JWTExpiresMin,
			Production:      cfg.Production(),
			FrontendBaseURL: cfg.FrontendBaseURL,
			Log:             log,
		},
		Google: &handlers.GoogleOAuthHandler{
			Users:           st.users,
			Gateway:         gw,
			Expires:         cfg.JWTExpiresMin,
			Production:      cfg.Production(),
			GoogleClientID:  cfg.GoogleClientID,
			GoogleSecret:    cfg.GoogleSecret,
			GoogleRedirect:  cfg.GoogleRedirect,
			FrontendBaseURL: cfg.FrontendBaseURL,
			Log:             log,
		},
		Tasks: handlers.NewTaskHandler(manager),
		Admin: &handlers.AdminHandler{Users: st.users, Tasks: manager, Log: log},
		Chat:  &handlers.ChatSyncHandler{Sync: chatSync, Secret: cfg.ChatSyncSecret},
	}
	// the socket only ever receives what the hub sink delivers
	if cfg.SinkEnabled("hub") {
		routes.Socket = &handlers.NotificationSocket{Hub: hub, Gateway: gw, Log: log}
	} else {
		log.Info("hub sink not enabled, websocket route not mounted", "action", "ws_disabled")
	}
	routes.Mount(app)

	go func() {
		<-ctx.Done()
		log.Info("shutting down", "action", "shutdown")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	log.Info("listening", "action", "startup", "port", cfg.AppPort, "session", strategy.Name(), "store", cfg.StoreDriver)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Error("server stopped", "action", "listen_failed", logging.Err(err))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		log.Warn("notification queue not drained", "action", "dispatcher_drain_timeout", logging.Err(err))
	}
	for _, c := range closers {
		_ = c.Close()
	}
	if err := st.close(); err != nil {
		log.Warn("store close failed", "action", "store_close_failed", logging.Err(err))
	}
}
