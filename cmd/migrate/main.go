package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/taskerhub/marketplace/internal/infrastructure/config"
	"github.com/taskerhub/marketplace/internal/repository/postgres"
)

func main() {
	var (
		direction string
		steps     int
		dbURL     string
	)

	flag.StringVar(&direction, "direction", "up", "up, down, or version to print the applied schema version")
	flag.IntVar(&steps, "steps", 0, "Number of migrations to apply or roll back (0 means all)")
	flag.StringVar(&dbURL, "db", "", "Database URL (or DATABASE_URL; defaults to the configured database)")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		cfg, err := config.Load()
		if err != nil {
			fail("load config", err)
		}
		dbURL = cfg.Database.MigrateURL()
	}

	if direction != "version" {
		if err := postgres.Migrate(dbURL, direction, steps); err != nil {
			fail("migrate", err)
		}
	}

	v, err := postgres.CurrentSchema(dbURL)
	if err != nil {
		fail("read schema version", err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", v.Version, v.Dirty)
	if v.Dirty {
		os.Exit(2)
	}
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
