package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/formy-ai/formy/pkg/api"
	"github.com/formy-ai/formy/pkg/auth"
	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/kvstore"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/queue"
	"github.com/formy-ai/formy/pkg/server"
	"github.com/formy-ai/formy/pkg/storage"
	"github.com/formy-ai/formy/pkg/tasks"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	logConf := log.DefaultConfig()
	if conf.Debug {
		logConf.Level = "debug"
	}
	if err := log.InitGlobalLogger(logConf); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}

	if _, err := database.Init(conf.Database); err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	kv, err := kvstore.New(conf.Redis.URL)
	if err != nil {
		log.Fatalf("redis init failed: %v", err)
	}
	kvstore.SetDefaultStore(kv)

	store, err := storage.New(conf.Storage)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	facade := database.GetFacade()
	taskQueue := queue.NewRedisQueue(kv.Client())
	billingSvc := billing.NewService(facade)
	taskSvc := tasks.NewService(facade, taskQueue, billingSvc)
	authSvc := auth.NewService(conf.Auth, facade, kv, billingSvc, auth.NewSender(conf.Mail, conf.Debug))

	router := api.NewRouter(api.Deps{
		Config:  conf,
		Auth:    authSvc,
		Tasks:   taskSvc,
		Billing: billingSvc,
		Store:   store,
		HealthFn: func() map[string]string {
			checks := map[string]string{"database": "ok", "redis": "ok"}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if db := database.GetDefaultDB(); db != nil {
				if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
					checks["database"] = "unreachable"
				}
			} else {
				checks["database"] = "uninitialized"
			}
			if kv.Ping(ctx) != nil {
				checks["redis"] = "unreachable"
			}
			return checks
		},
	})

	srv := server.New(conf.HTTPPort, router)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("shutdown incomplete: %v", err)
	}
}
