package database

import (
	"gorm.io/gorm"
)

// BaseFacade is the base structure for all facades, providing DB access.
type BaseFacade struct {
	db *gorm.DB // nil means use the default connection
}

// getDB returns the facade's connection, falling back to the default pool.
func (f *BaseFacade) getDB() *gorm.DB {
	if f.db != nil {
		return f.db
	}
	return GetDefaultDB()
}

// withDB returns a facade bound to a specific connection, used by tests.
func (f *BaseFacade) withDB(db *gorm.DB) BaseFacade {
	return BaseFacade{db: db}
}
