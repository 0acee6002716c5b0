package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion describes the ledger schema currently applied.
type SchemaVersion struct {
	Version uint
	Dirty   bool
}

// Migrate moves the ledger schema. Steps of zero applies (up) or rolls back (down) everything;
// a positive value moves that many migrations in the given direction.
func Migrate(databaseURL, direction string, steps int) error {
	if steps < 0 {
		return fmt.Errorf("steps must not be negative, got %d", steps)
	}
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	switch {
	case direction == "up" && steps == 0:
		err = m.Up()
	case direction == "down" && steps == 0:
		err = m.Down()
	case direction == "up":
		err = m.Steps(steps)
	case direction == "down":
		err = m.Steps(-steps)
	default:
		return fmt.Errorf("unknown direction %q (use up or down)", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

// CurrentSchema reports the applied version. A fresh database reports version zero.
func CurrentSchema(databaseURL string) (SchemaVersion, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return SchemaVersion{}, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaVersion{}, nil
	}
	if err != nil {
		return SchemaVersion{}, fmt.Errorf("read schema version: %w", err)
	}
	return SchemaVersion{Version: v, Dirty: dirty}, nil
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}
