package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

// Service owns the gorm handle. The job store is engine-agnostic:
// postgres in production, sqlite for development and tests. IDs are
// generated in Go so neither engine needs uuid support.
type Service struct {
	db     *gorm.DB
	log    *logger.Logger
	driver string
}

func New(cfg config.DBConfig, logg *logger.Logger) (*Service, error) {
	serviceLog := logg.With("service", "DBService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	switch cfg.Driver {
	case "sqlite":
		// A single connection sidesteps table-lock races under the
		// concurrent processor.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec(`PRAGMA busy_timeout = 5000`).Error; err != nil {
			return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	case "postgres":
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime.Duration > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
		}
	}

	return &Service{db: db, log: serviceLog, driver: cfg.Driver}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("migrating tables", "driver", s.driver)
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("migration failed", "error", err)
		return err
	}
	if err := EnsureJobIndexes(s.db); err != nil {
		s.log.Error("index migration failed", "error", err)
		return err
	}
	return nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Driver() string { return s.driver }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
