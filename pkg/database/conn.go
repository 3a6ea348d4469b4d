package database

import (
	"fmt"
	"sync"
	"time"

	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	defaultDB *gorm.DB
	dbLock    sync.RWMutex
)

// Init opens the postgres connection pool and installs it as the default DB.
func Init(conf config.DatabaseConfig) (*gorm.DB, error) {
	if db := GetDefaultDB(); db != nil {
		return db, nil
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	logMode := gormlogger.Silent
	if conf.LogMode {
		logMode = gormlogger.Info
	}

	gormDB, err := gorm.Open(postgres.Open(conf.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, err
	}

	if err := gormDB.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// Periodically refresh connections so the pool moves off old nodes
	// after a master failover.
	maxIdle := conf.MaxIdleConn
	if maxIdle <= 0 {
		maxIdle = 10
	}
	maxOpen := conf.MaxOpenConn
	if maxOpen <= 0 {
		maxOpen = 40
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	log.Infof("Configured database pool: MaxIdleConn=%d, MaxOpenConn=%d", maxIdle, maxOpen)

	SetDefaultDB(gormDB)
	return gormDB, nil
}

// SetDefaultDB installs the default connection, also used by tests to swap
// in a mocked connection.
func SetDefaultDB(db *gorm.DB) {
	dbLock.Lock()
	defer dbLock.Unlock()
	defaultDB = db
}

// GetDefaultDB returns the default connection, or nil before Init.
func GetDefaultDB() *gorm.DB {
	dbLock.RLock()
	defer dbLock.RUnlock()
	return defaultDB
}
