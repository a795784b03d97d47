// Package db provides the SQL connection helper shared by adapters that
// need a GORM handle — currently the Event Buffer's sqlstore backend.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a GORM connection for the given driver ("mysql" or
// "sqlite") and DSN. For sqlite, dsn is a file path (":memory:" for an
// ephemeral in-process database).
func Connect(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch driver {
	case "mysql":
		db, err := gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect mysql: %w", err)
		}
		return db, nil
	case "sqlite", "":
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}
