package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	logx "changewatch/pkg/logx"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	dialectSQLite = "sqlite"
	dialectMySQL  = "mysql"
)

// runMigrations applies pending migrations over a dedicated connection;
// closing the migrate instance closes the handle it was given.
func runMigrations(dialect, dsn string, log logx.Logger) error {
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	var driver database.Driver
	switch dialect {
	case dialectSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case dialectMySQL:
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		err = fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	v, dirty, verr := m.Version()
	if verr == nil {
		log.Debug("schema version", logx.Uint64("version", uint64(v)), logx.Bool("dirty", dirty))
	}
	return nil
}
