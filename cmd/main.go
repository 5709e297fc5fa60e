package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"CarteraDash/internal/appmanager"
	"CarteraDash/internal/logger"
)

// dsn builds the Postgres URL from DATABASE_URL or the DB_* variables. An empty
// result means the run ledger is disabled.
func dsn() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), host, port, os.Getenv("DB_NAME"))
}

// InitDB opens the ledger database, nil when none is configured.
func InitDB(url string) (*sql.DB, error) {
	if url == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// InitPgxPool opens the pool used to archive master snapshots.
func InitPgxPool(url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, nil
	}
	return pgxpool.New(context.Background(), url)
}

func main() {
	// Load .env for local dev
	_ = godotenv.Load("../.env")
	_ = godotenv.Load()

	url := dsn()
	db, err := InitDB(url)
	if err != nil {
		logger.L().Fatalw("failed to connect to DB", "error", err)
	}
	appmanager.SetDB(db)

	pool, err := InitPgxPool(url)
	if err != nil {
		logger.L().Fatalw("failed to open pgx pool", "error", err)
	}
	appmanager.SetPgxPool(pool)

	manager := appmanager.NewAppManager()

	servicesFile := os.Getenv("SERVICES_FILE")
	if servicesFile == "" {
		servicesFile = "../services.yaml"
	}
	servicesCfg, err := appmanager.LoadServiceSequence(servicesFile)
	if err != nil {
		logger.L().Fatalw("failed to load service sequence", "file", servicesFile, "error", err)
	}

	manager.AutoRegisterServices(servicesCfg)

	if err := manager.StartAll(); err != nil {
		manager.StopAll()
		logger.L().Fatalw("failed to start", "error", err)
	}

	// Graceful shutdown handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	if err := manager.StopAll(); err != nil {
		logger.L().Fatalw("failed to stop", "error", err)
	}
}
