package postgres

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/renews-project/renews/internal/store/postgres/migrations"
)

// runMigrations applies every pending SQL migration using golang-migrate,
// grounded on marmos91-dittofs's postgres metadata store: a
// database/sql connection (golang-migrate requires it, unlike pgxpool),
// the postgres driver, and an iofs source over the embedded migration
// set. golang-migrate serializes concurrent callers via Postgres
// advisory locks, so multiple renews instances starting against the
// same database race safely.
func runMigrations(connString string) error {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("postgres: open for migration: %w", err)
	}
	defer db.Close()

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("postgres: migration driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("postgres: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("postgres: apply migrations: %w", err)
	} else if err == migrate.ErrNoChange {
		log.Printf("[STORE]: postgres schema already current")
	} else {
		log.Printf("[STORE]: postgres migrations applied")
	}
	return nil
}
