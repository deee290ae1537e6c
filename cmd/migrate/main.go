package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/af-corp/relay-gateway/internal/config"
)

func main() {
	command := flag.String("command", "up", "up, down, version, or force")
	steps := flag.Int("steps", 0, "number of steps for up/down (0 = all)")
	forceVersion := flag.Int("version", -1, "version to record with -command force")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	migrationsPath := flag.String("path", "migrations", "path to migrations directory")
	flag.Parse()

	m, err := migrate.New("file://"+*migrationsPath, dsn(*dbURL))
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()

	switch *command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "force":
		if *forceVersion < 0 {
			log.Fatal("-command force requires -version")
		}
		err = m.Force(*forceVersion)
	case "version":
	default:
		log.Fatalf("invalid command: %s", *command)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration %s failed: %v", *command, err)
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("no migrations applied")
		return
	}
	if err != nil {
		log.Fatalf("read version: %v", err)
	}
	fmt.Printf("migration %s complete (version: %d, dirty: %v)\n", *command, v, dirty)
}

func dsn(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	db := config.DefaultConfig().Database
	db.Host = envOrDefault("DB_HOST", db.Host)
	db.User = envOrDefault("DB_USER", db.User)
	db.Password = envOrDefault("DB_PASSWORD", "relay-dev")
	db.Name = envOrDefault("DB_NAME", db.Name)
	if port, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil {
		db.Port = port
	}
	return db.DSN()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
