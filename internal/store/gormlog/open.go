package gormlog

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Open connects with the configured driver. sqlite is the default and
// takes a file path as DSN; mysql expects a full DSN.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Conversation{}, &Message{})
}
