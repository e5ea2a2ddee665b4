package storage

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tobren/batchq/pkg/config"
)

// OpenSQL opens a gorm connection for the configured dialect. The
// returned handle is quiet by default; hosts wanting SQL logging can
// open their own handle and pass it to NewGormStorage directly.
func OpenSQL(cfg config.SQLConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch cfg.Dialect {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("storage: unsupported sql dialect %q", cfg.Dialect)
	}
}
