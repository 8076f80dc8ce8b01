package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/rentflow/internal/audit/domain"
	ingestlogdomain "github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	leasedomain "github.com/smallbiznis/rentflow/internal/lease/domain"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql, which the SQL migrations do not target.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&leasedomain.Tenant{},
		&leasedomain.Room{},
		&leasedomain.Lease{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentStatus{},
		&ingestlogdomain.Entry{},
		&auditdomain.AuditLog{},
		&apikeydomain.APIKey{},
	)
}
