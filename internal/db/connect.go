// Package db provides database connection and migration for Switchyard.
package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options selects the backing database. SQLite is the default for
// single-machine deployments; MySQL serves shared multi-gateway setups.
type Options struct {
	Driver   string // "sqlite" or "mysql"
	Path     string // sqlite file path (":memory:" for tests)
	Host     string // mysql host
	Port     int    // mysql port
	User     string // mysql user
	Database string // mysql database name
}

// MySQLDSN builds the DSN for a MySQL connection.
func MySQLDSN(user, host string, port int, database string) string {
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", user, host, port, database)
}

// SQLiteDSN appends the options concurrent writers need: transactions begin
// immediate so two writers serialize at BEGIN instead of failing on a lock
// upgrade mid-transaction, and a busy timeout makes the loser wait its turn.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_txlock=immediate"
}

// Connect opens a GORM connection per the given options.
func Connect(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch opts.Driver {
	case "", "sqlite":
		path := opts.Path
		if path == "" {
			path = "switchyard.db"
		}
		db, err := gorm.Open(sqlite.Open(SQLiteDSN(path)), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
		}
		return db, nil
	case "mysql":
		user := opts.User
		if user == "" {
			user = "root"
		}
		dsn := MySQLDSN(user, opts.Host, opts.Port, opts.Database)
		db, err := gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", opts.Host, opts.Port, opts.Database, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unknown driver %q", opts.Driver)
	}
}
