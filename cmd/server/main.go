package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"strata-backend/internal/accountability"
	"strata-backend/internal/admin"
	"strata-backend/internal/auth"
	"strata-backend/internal/config"
	"strata-backend/internal/engine"
	"strata-backend/internal/policy"
	"strata-backend/internal/query"
	"strata-backend/internal/schema"
	"strata-backend/internal/session"
	"strata-backend/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	log := newLogger(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"port":   cfg.Server.Port,
		"driver": cfg.Database.Driver,
	}).Info("config loaded")

	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap system tables: %v", err)
	}

	reg := schema.NewRegistry()
	if err := schema.LoadAll(ctx, db.DB, reg, log); err != nil {
		log.Warnf("load schema catalog: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warnf("redis unavailable, falling back to local cache only: %v", err)
			redisClient = nil
		}
	}

	policies := policy.NewCache(policy.NewStore(db), redisClient, cfg.Cache.MaxEntries, log)
	sessions := session.NewManager(db, cfg.Sessions, log)
	resolver := accountability.NewResolver(sessions, policies, log)
	compiler := query.NewCompiler(reg, db.Dialect)

	sweeper := session.NewSweeper(sessions, cfg.Sessions.SweepSchedule, log)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("start session sweeper: %v", err)
	}
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authHandler := auth.NewAuthHandler(policies, sessions, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	accMW := auth.Middleware(resolver, cfg.JWTSecret)
	adminMW := auth.RequireAdmin()

	adminHandler := admin.NewHandler(policies, log)
	admin.RegisterAdminRoutes(app, adminHandler, accMW, adminMW)

	itemHandler := engine.NewHandler(db, compiler, log)
	engine.RegisterItemRoutes(app, itemHandler, accMW)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l)
}

func errorHandler(c *fiber.Ctx, err error) error {
	var appErr *query.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(fiber.Map{"error": appErr})
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiber.Map{
			"code":    "HTTP_ERROR",
			"message": fiberErr.Message,
		}})
	}

	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fiber.Map{
			"code":    "NOT_FOUND",
			"message": "Record not found",
		}})
	}

	logrus.WithError(err).Error("unhandled error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": fiber.Map{
		"code":    "INTERNAL",
		"message": "Internal server error",
	}})
}
