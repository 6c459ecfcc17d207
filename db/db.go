package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/config"
	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func NewPSQLStorage(dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(logger))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// NewSQLiteStorage opens a sqlite database, used for local development and tests.
func NewSQLiteStorage(dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(logger))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; a single connection avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func Open(cfg *config.Config, logger zerolog.Logger) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		return NewPSQLStorage(cfg.DBURL, logger)
	case "sqlite":
		return NewSQLiteStorage(cfg.DBURL, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormConfig(logger zerolog.Logger) *gorm.Config {
	gl := logger.With().Str("component", "gorm").Logger()
	return &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
		Logger: gormlogger.New(&gl, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

type table struct {
	name  string
	model interface{}
}

// tables is ordered so that dropping in reverse respects foreign keys.
var tables = []table{
	{"users", &models.User{}},
	{"experts", &models.ExpertProfile{}},
	{"availabilities", &models.Availability{}},
	{"consultations", &models.Consultation{}},
	{"messages", &models.Message{}},
	{"payments", &models.Payment{}},
	{"reviews", &models.Review{}},
	{"notifications", &models.Notification{}},
	{"devices", &models.Device{}},
}

func Tables() []string {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.name)
	}
	return names
}

func Migrate(db *gorm.DB, logger zerolog.Logger) error {
	for _, t := range tables {
		logger.Info().Str("table", t.name).Msg("migrating")
		if err := db.AutoMigrate(t.model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", t.name, err)
		}
	}
	return nil
}

// ClearDatabase drops the named tables, or every table when names is empty.
func ClearDatabase(db *gorm.DB, names []string, logger zerolog.Logger) error {
	selected := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if !knownTable(n) {
			return fmt.Errorf("unknown table %q", n)
		}
		selected[n] = true
	}

	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if len(selected) > 0 && !selected[t.name] {
			continue
		}
		if err := db.Migrator().DropTable(t.model); err != nil {
			return fmt.Errorf("drop %s: %w", t.name, err)
		}
		logger.Info().Str("table", t.name).Msg("dropped")
	}
	return nil
}

func knownTable(name string) bool {
	for _, t := range tables {
		if t.name == name {
			return true
		}
	}
	return false
}
