package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"authd/internal/config"
	"authd/internal/storage/mongodb"
	"authd/internal/storage/sqlite"
)

func main() {
	cfg := config.MustLoad()

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		migrateSQLite(cfg.Storage.Path)
	case config.DriverMongoDB:
		migrateMongo(cfg.Storage.Mongo)
	default:
		log.Fatalf("unsupported storage driver: %s", cfg.Storage.Driver)
	}

	fmt.Println("Database initialization completed successfully")
}

func migrateSQLite(path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Fatalf("failed to create storage dir: %v", err)
	}

	storage, err := sqlite.New(path)
	if err != nil {
		log.Fatalf("failed to open sqlite: %v", err)
	}
	defer storage.Close(context.Background())

	version, err := storage.Migrate()
	if err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	log.Printf("SQLite schema is at version %d", version)
}

func migrateMongo(cfg config.MongoConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	log.Println("Connecting to MongoDB...")

	// New creates the unique indexes on users.
	storage, err := mongodb.New(ctx, cfg.URI, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer storage.Close(ctx)

	log.Println("MongoDB connected, indexes created successfully")
}
