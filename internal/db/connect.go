// Package db opens the local durable store and migrates its tables.
package db

import (
	"fmt"

	"github.com/zulandar/interviewer/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the shared interview store.
func DSN(user, host string, port int, database string) string {
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", user, host, port, database)
}

// Open connects to the store selected by cfg and migrates it.
func Open(cfg config.StorageConfig) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		gdb, err = ConnectSQLite(cfg.Path)
	case "mysql":
		admin, aerr := ConnectAdmin(cfg.User, cfg.Host, cfg.Port)
		if aerr != nil {
			return nil, aerr
		}
		if aerr := CreateDatabase(admin, cfg.Database); aerr != nil {
			return nil, aerr
		}
		if sqlDB, serr := admin.DB(); serr == nil {
			sqlDB.Close()
		}
		gdb, err = Connect(cfg.User, cfg.Host, cfg.Port, cfg.Database)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// sqliteBusyTimeoutMs is how long a connection waits on another process's
// lock before failing with "database is locked".
const sqliteBusyTimeoutMs = 5000

// ConnectSQLite opens a GORM connection to a SQLite file. The pool is
// limited to a single connection so concurrent writers in one process
// serialize; a busy timeout covers writers in other processes.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: sqlite path is required")
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", path, sqliteBusyTimeoutMs)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// Connect opens a GORM connection to a MySQL database.
func Connect(user, host string, port int, database string) (*gorm.DB, error) {
	dsn := DSN(user, host, port, database)
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return gdb, nil
}

// ConnectAdmin opens a GORM connection to the MySQL server without selecting
// a specific database, used for CREATE DATABASE.
func ConnectAdmin(user, host string, port int) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s@tcp(%s:%d)/?parseTime=true", user, host, port)
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", host, port, err)
	}
	return gdb, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}
