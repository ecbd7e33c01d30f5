package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"rocketcrash/internal/database"
)

const defaultMigrationsPath = "./migrations"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	db, err := sql.Open("pgx", connString())
	if err != nil {
		log.Fatalf("[MIGRATE] Failed to connect to database: %v", err)
	}
	defer db.Close()

	path := getEnv("MIGRATIONS_PATH", defaultMigrationsPath)

	switch command := os.Args[1]; command {
	case "up":
		if err := database.RunMigrations(db, path); err != nil {
			log.Fatalf("[MIGRATE] Up failed: %v", err)
		}
		log.Println("[MIGRATE] Schema is up to date")

	case "down":
		if err := database.RollbackMigration(db, path); err != nil {
			log.Fatalf("[MIGRATE] Rollback failed: %v", err)
		}
		log.Println("[MIGRATE] Rolled back one migration")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, path)
		if err != nil {
			log.Fatalf("[MIGRATE] Reading version failed: %v", err)
		}
		if dirty {
			log.Printf("[MIGRATE] Version %d (dirty, needs manual repair)", version)
		} else {
			log.Printf("[MIGRATE] Version %d", version)
		}

	case "create":
		if len(os.Args) < 3 {
			log.Fatal("[MIGRATE] Usage: migrate create <name>")
		}
		createMigration(path, os.Args[2])

	default:
		log.Printf("[MIGRATE] Unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		getEnv("BLUEPRINT_DB_HOST", "localhost"),
		getEnv("BLUEPRINT_DB_PORT", "5432"),
		getEnv("BLUEPRINT_DB_DATABASE", "crashdb"),
		getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

// createMigration writes an empty up/down pair with the next sequential
// version number.
func createMigration(path, name string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		log.Fatalf("[MIGRATE] Reading %s failed: %v", path, err)
	}

	files := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			files++
		}
	}
	version := files/2 + 1

	for _, direction := range []string{"up", "down"} {
		file := fmt.Sprintf("%s/%06d_%s.%s.sql", path, version, name, direction)
		content := fmt.Sprintf("-- %s: %s\n", direction, name)
		if err := os.WriteFile(file, []byte(content), 0644); err != nil {
			log.Fatalf("[MIGRATE] Writing %s failed: %v", file, err)
		}
		log.Printf("[MIGRATE] Created %s", file)
	}
}

func printUsage() {
	fmt.Println("Usage: migrate <up|down|version|create <name>>")
	fmt.Println()
	fmt.Println("Connection is read from BLUEPRINT_DB_* environment variables")
	fmt.Println("(host, port, database, username, password, schema) and the")
	fmt.Println("migrations directory from MIGRATIONS_PATH (default ./migrations).")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
