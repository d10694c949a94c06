// Package main initializes and starts the studio back-office server,
// setting up configuration, logging, database connections, repositories,
// services, handlers, and optional TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/cache"
	"github.com/atinyakov/grillzstudio/internal/config"
	"github.com/atinyakov/grillzstudio/internal/db"
	"github.com/atinyakov/grillzstudio/internal/events"
	"github.com/atinyakov/grillzstudio/internal/logger"
	"github.com/atinyakov/grillzstudio/internal/mailer"
	"github.com/atinyakov/grillzstudio/internal/mesh"
	"github.com/atinyakov/grillzstudio/internal/middleware"
	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/repository"
	"github.com/atinyakov/grillzstudio/internal/server/handler/http"
	"github.com/atinyakov/grillzstudio/internal/service"
	"github.com/atinyakov/grillzstudio/internal/storage"
	"github.com/atinyakov/grillzstudio/internal/telemetry"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	if err := options.Validate(); err != nil {
		zapLogger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Purge expired login tokens and old activity logs.
	db.StartMaintenance(ctx, postgresDB,
		time.Hour,            // interval
		options.LogRetention, // retention
		zapLogger,
	)

	// Initialize repositories.
	ticketRepo := repository.NewPostgresTicketRepository(postgresDB)
	orderRepo := repository.NewPostgresOrderRepository(postgresDB)
	pairedWriter := repository.NewPostgresPairedWriter(postgresDB)
	authRepo := repository.NewPostgresAuthRepository(postgresDB)
	activityRepo := repository.NewPostgresActivityRepository(postgresDB)

	// Object storage for designs and generated meshes.
	bucket, err := storage.NewFileBucket(options.StorageDir, storage.DesignsBucket, options.PublicBaseURL)
	if err != nil {
		zapLogger.Fatal("cannot init storage", zap.Error(err))
	}

	// Lifecycle events go to RabbitMQ when configured.
	var publisher events.Publisher
	if options.AMQPURL != "" {
		rabbit, err := events.NewRabbitPublisher(options.AMQPURL, options.AMQPExchange, zapLogger)
		if err != nil {
			zapLogger.Fatal("cannot connect to RabbitMQ", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = rabbit
	} else {
		zapLogger.Info("RABBITMQ_URL not set, lifecycle events are not published")
	}

	var meshClient service.MeshGenerator
	if options.MeshEnabled() {
		c := mesh.NewClient(options.MeshBaseURL, options.MeshAPIKey, zapLogger)
		c.PollInterval = options.MeshPollInterval
		c.MaxAttempts = options.MeshMaxAttempts
		c.Deadline = options.MeshDeadline
		meshClient = c
	} else {
		zapLogger.Warn("TRIPO_API_KEY not set, mesh generation disabled")
	}

	// Initialize business-logic services.
	readModel := cache.New(ticketRepo, orderRepo)
	identity := service.NewIdentityService(authRepo, mailer.NewLogMailer(zapLogger), service.IdentityConfig{
		AdminEmail:    options.AdminEmail,
		PublicBaseURL: options.PublicBaseURL,
		MagicLinkTTL:  options.MagicLinkTTL,
	}, zapLogger)
	orders := service.NewOrderService(service.OrderDeps{
		Tickets:  ticketRepo,
		Orders:   orderRepo,
		Tx:       pairedWriter,
		Accounts: identity,
		Bucket:   bucket,
		Mesh:     meshClient,
		Cache:    readModel,
		Events:   events.NewEmitter(publisher, zapLogger),
		Log:      zapLogger,
	})
	sink := telemetry.NewSink(activityRepo, telemetry.NewPresence(), zapLogger, 16)

	unsubscribe := identity.OnSessionChange(func(ev service.SessionEvent) {
		onSessionChange(ctx, ev, readModel, sink.Presence(), zapLogger)
	})
	defer unsubscribe()

	// Sessions and CSRF use random keys in development.
	sessionKey, ok := options.SessionSecret()
	if !ok {
		zapLogger.Warn("SESSION_KEY not set, using a random key; sessions will not survive restarts")
	}
	csrfKey, ok := options.CSRFSecret()
	if !ok {
		zapLogger.Warn("CSRF_KEY not set, using a random key")
	}
	sessions := &middleware.SessionAuth{
		Store:    middleware.NewCookieStore(sessionKey, options.CookieSecure),
		Resolver: identity,
		Log:      zapLogger,
	}

	// Create HTTP handlers.
	handlers := http.Handlers{
		Auth:      &http.AuthHandler{Identity: identity, Sessions: sessions, Log: zapLogger},
		Quotes:    &http.QuoteHandler{Quotes: orders, Log: zapLogger},
		Me:        &http.MeHandler{Orders: orders, Log: zapLogger},
		Admin:     &http.AdminHandler{Studio: orders, Log: zapLogger},
		Telemetry: &http.TelemetryHandler{Sink: sink, Presence: sink.Presence(), Log: zapLogger},
	}

	// Build the router with middleware and routes.
	router := http.NewRouter(handlers, http.RouterConfig{
		Sessions:      sessions,
		Orders:        orders,
		DesignsPrefix: bucket.Prefix(),
		Designs:       bucket.Handler(),
	}, zapLogger)
	protect := csrf.Protect(csrfKey,
		csrf.Secure(options.CookieSecure),
		csrf.Path("/"),
		csrf.TrustedOrigins(trustedOrigins(options.PublicBaseURL)),
	)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           protect(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	if options.TLSCert != "" && options.TLSKey != "" {
		// Load server TLS certificate and key.
		cert, err := tls.LoadX509KeyPair(options.TLSCert, options.TLSKey)
		if err != nil {
			zapLogger.Fatal("failed to load server TLS cert/key", zap.Error(err))
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr))
		err = server.ListenAndServeTLS("", "")
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
		}
	} else {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Addr))
		err = server.ListenAndServe()
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}

	// Let queued telemetry writes finish.
	sink.Wait()
	zapLogger.Info("server stopped")
}

// onSessionChange keeps the read model and the presence view in step with
// sign-ins and sign-outs.
func onSessionChange(ctx context.Context, ev service.SessionEvent, readModel *cache.ReadModel, presence *telemetry.Presence, log *zap.Logger) {
	p := ev.Principal
	switch ev.Kind {
	case service.SignedIn:
		if p == nil {
			return
		}
		presence.Seen(p.Email, time.Now())
		go func(p *models.Principal) {
			warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := readModel.Prewarm(warmCtx, p); err != nil {
				log.Warn("failed to prewarm read model", zap.String("email", p.Email), zap.Error(err))
			}
		}(p)
	case service.SignedOut:
		if p == nil {
			return
		}
		presence.Leave(p.Email)
		if !p.IsAdmin() {
			readModel.Forget(p.Email)
		}
	}
}

// trustedOrigins returns the hosts gorilla/csrf accepts as request origin.
func trustedOrigins(publicBaseURL string) []string {
	origins := []string{"localhost", "127.0.0.1"}
	if u, err := url.Parse(publicBaseURL); err == nil && u.Host != "" {
		origins = append(origins, u.Host)
	}
	return origins
}
