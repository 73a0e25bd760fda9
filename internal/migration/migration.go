package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/tenantauth/internal/auth/domain"
	"github.com/smallbiznis/tenantauth/internal/auth/throttle"
	"github.com/smallbiznis/tenantauth/pkg/db"
	"gorm.io/gorm"
)

var errNoHandle = errors.New("migration database handle is required")

// authModels back the tables the login flow reads: tenants, accounts and the
// attempt log.
var authModels = []any{&domain.Organization{}, &domain.User{}, &throttle.LoginAttempt{}}

// Apply brings the schema up to date. Postgres runs the versioned SQL files;
// the other drivers derive tables from authModels.
func Apply(conn *gorm.DB, driver string) error {
	if conn == nil {
		return errNoHandle
	}
	if !strings.EqualFold(strings.TrimSpace(driver), db.DriverPostgres) {
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("migration sql handle: %w", err)
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded SQL migrations to a postgres database.
func RunMigrations(sqlDB *sql.DB) error {
	if sqlDB == nil {
		return errNoHandle
	}

	files, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(files, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	target, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: "tenantauth_schema_migrations"})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, db.DriverPostgres, target)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}

	// m.Close would close sqlDB, which the app keeps using.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// AutoMigrate creates the schema from the gorm models on sqlite and mysql.
func AutoMigrate(conn *gorm.DB) error {
	if conn == nil {
		return errNoHandle
	}
	if err := conn.AutoMigrate(authModels...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
