package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"CarteraDash/internal/config"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/serviceiface"
)

// StoreService exposes the run ledger to the other services. Without a database the
// service is disabled and Store returns nil.
type StoreService struct {
	config map[string]interface{}
	db     *sql.DB
	pool   *pgxpool.Pool
	store  *Store
}

func NewStoreService(cfg map[string]interface{}, db *sql.DB, pool *pgxpool.Pool) serviceiface.Service {
	s := &StoreService{config: cfg, db: db, pool: pool}
	if db != nil {
		s.store = New(db, pool)
	}
	return s
}

func (s *StoreService) Name() string {
	return "store"
}

func (s *StoreService) Start() error {
	if s.store == nil {
		logger.L().Infow("run ledger disabled, no database configured")
		return nil
	}
	timeout := config.ToDuration(s.config["timeout"], 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run ledger schema: %w", err)
	}
	logger.Audit("run ledger ready (snapshot archive: %t)", s.pool != nil)
	return nil
}

func (s *StoreService) Stop() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Store returns the ledger, nil when no database is configured.
func (s *StoreService) Store() *Store {
	return s.store
}
