package appmanager

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"CarteraDash/api/cartera"
	"CarteraDash/internal/config"
	"CarteraDash/internal/dashboard"
	"CarteraDash/internal/jobs"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/resource"
	"CarteraDash/internal/serviceiface"
	"CarteraDash/internal/store"
	"CarteraDash/internal/watcher"
)

var db *sql.DB
var pgxPool *pgxpool.Pool

func SetDB(database *sql.DB) {
	db = database
}

func SetPgxPool(pool *pgxpool.Pool) {
	pgxPool = pool
}

// Runtime is the state every cartera service shares: one data directory, one time
// zone and one runner, so HTTP, cron and watcher runs are serialised together.
type Runtime struct {
	Paths    config.Paths
	Location *time.Location
	Runner   *jobs.Runner
	Events   *dashboard.SSEServer
	Files    *resource.ResourceManager
}

var shared *Runtime

// NewRuntime reads data_dir, timezone and sse_ping from the cartera service config.
// DATA_DIR overrides data_dir.
func NewRuntime(cfg map[string]interface{}) *Runtime {
	paths := config.PathsFromEnv(config.Section(cfg, "data_dir", config.DefaultDataDir))
	loc := config.Location(config.Section(cfg, "timezone", ""))
	rt := &Runtime{
		Paths:    paths,
		Location: loc,
		Runner:   jobs.NewRunner(paths, loc),
		Events:   dashboard.NewSSEServer(config.ToDuration(cfg["sse_ping"], 30*time.Second)),
	}
	rt.Runner.Events = rt.Events
	return rt
}

// GetRuntime returns the runtime built by AutoRegisterServices.
func GetRuntime() *Runtime {
	return shared
}

var serviceConstructors = map[string]func(map[string]interface{}) serviceiface.Service{
	"logger": func(cfg map[string]interface{}) serviceiface.Service {
		return logger.NewLoggerService(cfg)
	},
	"resourcemanager": func(cfg map[string]interface{}) serviceiface.Service {
		if _, ok := cfg["timezone"]; !ok {
			cfg = withDefault(cfg, "timezone", shared.Location.String())
		}
		rm := resource.NewResourceManagerService(cfg).(*resource.ResourceManager)
		shared.Files = rm
		return rm
	},
	"store": func(cfg map[string]interface{}) serviceiface.Service {
		return store.NewStoreService(cfg, db, pgxPool)
	},
	"cartera": func(cfg map[string]interface{}) serviceiface.Service {
		d, err := cartera.NewDashboard(shared.Paths, shared.Location, shared.Runner, shared.Files, shared.Events)
		if err != nil {
			return &failedService{name: "cartera", err: err}
		}
		return cartera.NewCarteraService(cfg, d)
	},
	"watcher": func(cfg map[string]interface{}) serviceiface.Service {
		return watcher.NewWatcherService(cfg, shared.Paths, shared.Runner)
	},
	"cron": func(cfg map[string]interface{}) serviceiface.Service {
		if _, ok := cfg["timezone"]; !ok {
			cfg = withDefault(cfg, "timezone", shared.Location.String())
		}
		return jobs.NewCronService(cfg, shared.Runner)
	},
}

func withDefault(cfg map[string]interface{}, key string, v interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg)+1)
	for k, val := range cfg {
		out[k] = val
	}
	out[key] = v
	return out
}

// failedService reports a construction error when the manager starts it.
type failedService struct {
	name string
	err  error
}

func (f *failedService) Name() string { return f.name }
func (f *failedService) Start() error { return f.err }
func (f *failedService) Stop() error  { return nil }

// ------------------- MANAGER -------------------

type AppManager struct {
	services []serviceiface.Service
	mu       sync.Mutex
}

func NewAppManager() *AppManager {
	return &AppManager{
		services: make([]serviceiface.Service, 0),
	}
}

func (am *AppManager) RegisterService(s serviceiface.Service) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.services = append(am.services, s)
}

func (am *AppManager) StartAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	// First pass: start all except Resourcemanager
	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			continue
		}
		logger.L().Infof("Starting service: %s", service.Name())
		if err := service.Start(); err != nil {
			return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
		}
	}

	// Resourcemanager last, once every tracked file is registered
	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			logger.L().Infof("Starting service: %s", service.Name())
			if err := service.Start(); err != nil {
				return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
			}
		}
	}
	return nil
}

func (am *AppManager) StopAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	var firstErr error
	for i := len(am.services) - 1; i >= 0; i-- {
		svc := am.services[i]
		if err := svc.Stop(); err != nil {
			logger.L().Errorw("service stop failed", "service", svc.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to stop service %s: %w", svc.Name(), err)
			}
		}
	}
	return firstErr
}

// ------------------- YAML CONFIG -------------------

type ServiceSequencer struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name       string                 `yaml:"name"`
	StartOrder int                    `yaml:"start_order"`
	Config     map[string]interface{} `yaml:"config"`
}

func LoadServiceSequence(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seq ServiceSequencer
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, err
	}

	// sort by start_order
	sort.SliceStable(seq.Services, func(i, j int) bool {
		return seq.Services[i].StartOrder < seq.Services[j].StartOrder
	})

	return seq.Services, nil
}

func (am *AppManager) AutoRegisterServices(configs []ServiceConfig) {
	var carteraCfg map[string]interface{}
	for _, svc := range configs {
		if svc.Name == "cartera" {
			carteraCfg = svc.Config
		}
	}
	shared = NewRuntime(carteraCfg)

	for _, svc := range configs {
		constructor, ok := serviceConstructors[svc.Name]
		if !ok {
			logger.L().Warnw("unknown service in sequence", "service", svc.Name)
			continue
		}
		am.RegisterService(constructor(svc.Config))
	}
	am.wire()
}

// wire hands the optional services to the ones that use them.
func (am *AppManager) wire() {
	var ledger *store.Store
	for _, svc := range am.services {
		switch s := svc.(type) {
		case *logger.LoggerService:
			logger.SetGlobalLogger(s)
		case *resource.ResourceManager:
			shared.Runner.Resources = s
		case *store.StoreService:
			ledger = s.Store()
		}
	}
	if ledger == nil {
		return
	}
	shared.Runner.Ledger = ledger
	for _, svc := range am.services {
		if cs, ok := svc.(*cartera.CarteraService); ok {
			cs.Dashboard().Runs = ledger
		}
	}
}

func (am *AppManager) GetServiceByName(name string) serviceiface.Service {
	for _, svc := range am.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}
