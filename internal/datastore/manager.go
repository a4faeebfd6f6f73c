// Package datastore opens the engine database and migrates its schema.
package datastore

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Manager owns the database connection.
type Manager struct {
	db       *gorm.DB
	location string // file path for SQLite, host:port/database for MySQL
	isMySQL  bool
}

// Open connects to the database selected by settings.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*Manager, error) {
	gormCfg := &gorm.Config{
		Logger:  logger.NewGormLoggerAdapter(log, settings.SlowThreshold),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch strings.ToLower(settings.Type) {
	case "mysql":
		return openMySQL(settings, gormCfg)
	case "sqlite", "":
		return OpenSQLite(settings.SQLite.Path, gormCfg)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenSQLite opens a SQLite database at path. Transactions begin IMMEDIATE so
// concurrent writers queue on the busy timeout instead of failing on upgrade.
func OpenSQLite(path string, gormCfg *gorm.Config) (*Manager, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("path", path).
				Build()
		}
	}
	if gormCfg == nil {
		gormCfg = &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Build()
	}

	// One writer at a time; readers share the WAL.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)

	return &Manager{db: db, location: path}, nil
}

func openMySQL(settings *conf.DatabaseSettings, gormCfg *gorm.Config) (*Manager, error) {
	my := settings.MySQL
	db, err := gorm.Open(gormmysql.Open(mysqlDSN(settings)), gormCfg)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql").
			Context("host", my.Host).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Manager{
		db:       db,
		location: net.JoinHostPort(my.Host, my.Port) + "/" + my.Database,
		isMySQL:  true,
	}, nil
}

// mysqlDSN builds the connection string with mysql.Config so credentials
// are escaped.
func mysqlDSN(settings *conf.DatabaseSettings) string {
	my := settings.MySQL
	cfg := mysql.NewConfig()
	cfg.User = my.Username
	cfg.Passwd = my.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(my.Host, my.Port)
	cfg.DBName = my.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Initialize creates or updates the schema.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(entities.All()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Location returns where the data lives, for logging.
func (m *Manager) Location() string {
	return m.location
}

// IsMySQL reports whether the manager is backed by MySQL.
func (m *Manager) IsMySQL() bool {
	return m.isMySQL
}

// Close closes the database connection.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
