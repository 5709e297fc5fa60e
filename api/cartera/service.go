package cartera

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"CarteraDash/internal/config"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/serviceiface"
)

type CarteraService struct {
	config    map[string]interface{}
	dashboard *Dashboard
	server    *http.Server
}

func NewCarteraService(cfg map[string]interface{}, d *Dashboard) serviceiface.Service {
	return &CarteraService{config: cfg, dashboard: d}
}

func (s *CarteraService) Name() string {
	return "cartera"
}

func (s *CarteraService) Start() error {
	if err := s.dashboard.Paths.EnsureDirs(); err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", Port(s.config))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           NewRouter(s.dashboard),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.L().Infof("Cartera dashboard started on %s (data in %s)", addr, s.dashboard.Paths.Base)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Errorw("cartera server failed", "error", err)
		}
	}()
	return nil
}

func (s *CarteraService) Stop() error {
	// open event streams would otherwise hold Shutdown until its deadline
	s.dashboard.Events.Stop()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Port resolves the listen port: PORT, then the port key, then 5000.
func Port(cfg map[string]interface{}) int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		return p
	}
	if p := config.ToInt(cfg["port"]); p > 0 {
		return p
	}
	return config.DefaultHTTPPort
}

// Dashboard exposes the shared handler state for wiring.
func (s *CarteraService) Dashboard() *Dashboard {
	return s.dashboard
}
