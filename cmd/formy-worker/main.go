package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/formy-ai/formy/pkg/billing"
	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/database"
	"github.com/formy-ai/formy/pkg/engine"
	"github.com/formy-ai/formy/pkg/kvstore"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/pipeline"
	"github.com/formy-ai/formy/pkg/queue"
	"github.com/formy-ai/formy/pkg/storage"
	"github.com/formy-ai/formy/pkg/worker"
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

	// Unknown engine types or dangling bindings stop the worker here, not
	// on the first popped task.
	registry, err := engine.LoadRegistry(conf.EngineConfigPath)
	if err != nil {
		log.Fatalf("engine registry init failed: %v", err)
	}

	facade := database.GetFacade()
	taskQueue := queue.NewRedisQueue(kv.Client())
	billingSvc := billing.NewService(facade)
	factory := pipeline.NewFactory(registry, store)

	w := worker.New(facade, taskQueue, billingSvc, factory, conf.Worker)
	j := worker.NewJanitor(facade, taskQueue, billingSvc, store, conf.Worker, conf.Storage.RetentionDays)
	w.Start()
	j.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	w.Stop()
	j.Stop()
}
