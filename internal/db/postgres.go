package db

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/orderlens/orderlens-backend/internal/platform/envutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
	"github.com/orderlens/orderlens-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "orderlens")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = int32(envutil.Int("POSTGRES_MAX_CONNS", 20))
	poolCfg.MaxConnLifetime = time.Hour

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	gdb, err := gorm.Open(postgres.Open(poolCfg.ConnString()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(int(poolCfg.MaxConns))
	sqlDB.SetConnMaxLifetime(poolCfg.MaxConnLifetime)

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Organization{},
		&types.Location{},
		&types.MenuItem{},
		&types.MenuMeal{},
		&types.MenuAddOn{},
		&types.Worker{},
		&types.Run{},
		&types.Recording{},
		&types.Transaction{},
		&types.Grade{},
		&types.RunAnalytics{},
		&types.RunAnalyticsWorker{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	// Views consumed by the analytics layer.
	if err := s.db.Exec(`
		CREATE OR REPLACE VIEW graded_rows_filtered AS
		SELECT g.*,
		       t.started_at AS tx_started_at,
		       t.ended_at AS tx_ended_at,
		       t.worker_id,
		       t.worker_confidence,
		       w.display_name AS worker_display_name,
		       r.location_id,
		       r.run_date
		FROM grade g
		JOIN transaction t ON t.id = g.transaction_id
		JOIN run r ON r.id = g.run_id
		LEFT JOIN worker w ON w.id = t.worker_id
	`).Error; err != nil {
		return fmt.Errorf("create graded_rows_filtered view: %w", err)
	}
	if err := s.db.Exec(`
		CREATE OR REPLACE VIEW run_analytics_with_details AS
		SELECT ra.*, r.org_id, r.location_id, r.run_date, r.status
		FROM run_analytics ra
		JOIN run r ON r.id = ra.run_id
	`).Error; err != nil {
		return fmt.Errorf("create run_analytics_with_details view: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
