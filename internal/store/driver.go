package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// dbDriver describes how one supported database is opened.
type dbDriver struct {
	dialector func(dsn string) gorm.Dialector
	// maxOpenConns caps the pool when positive. SQLite allows one writer, and a
	// single connection keeps ":memory:" databases shared across goroutines.
	maxOpenConns int
}

var drivers = map[string]dbDriver{
	"sqlite":   {dialector: sqlite.Open, maxOpenConns: 1},
	"postgres": {dialector: postgres.Open},
}

func lookupDriver(name string) (dbDriver, error) {
	d, ok := drivers[name]
	if !ok {
		return dbDriver{}, fmt.Errorf("unsupported database driver: %s", name)
	}
	return d, nil
}

// configure applies the driver's pool limits to an opened database.
func (d dbDriver) configure(db *gorm.DB) error {
	if d.maxOpenConns <= 0 {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(d.maxOpenConns)
	return nil
}
