package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultTimeZone = "America/Bogota"
	DefaultDataDir  = "./data"
	DefaultHTTPPort = 5000

	// Cron schedules for the unattended consolidations
	DefaultMaestroSchedule = "0 6 * * *"
	DefaultPagosSchedule   = "30 6 * * *"

	DefaultWatchDebounce     = 2 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	// Charts keep this many cities before folding the rest into "Otras"
	TopCities = 10

	AllCities   = "Todas"
	AllAnalysts = "Todos"
)

// File and folder names inside the data directory.
const (
	SnapshotsDir     = "proyectados"
	PaymentsDir      = "pagos_diarios"
	MasterXLSXName   = "Proyectadoconsolidado.xlsx"
	MasterCSVName    = "Proyectadoconsolidado.csv"
	PaymentsCSVName  = "PagosConsolidado.csv"
	ManagementLogZip = "gestion.zip"
)

// ExcludedAnalysts never show up in analyst rankings or collection attribution.
var ExcludedAnalysts = []string{"Jhon Polanco"}

// Paths resolves every file the dashboard reads or writes from one base directory.
type Paths struct {
	Base string
}

func NewPaths(base string) Paths {
	if strings.TrimSpace(base) == "" {
		base = DefaultDataDir
	}
	return Paths{Base: base}
}

// PathsFromEnv honours DATA_DIR, falling back to the given directory.
func PathsFromEnv(fallback string) Paths {
	if v := os.Getenv("DATA_DIR"); v != "" {
		return NewPaths(v)
	}
	return NewPaths(fallback)
}

func (p Paths) Snapshots() string   { return filepath.Join(p.Base, SnapshotsDir) }
func (p Paths) Payments() string    { return filepath.Join(p.Base, PaymentsDir) }
func (p Paths) MasterXLSX() string  { return filepath.Join(p.Base, MasterXLSXName) }
func (p Paths) MasterCSV() string   { return filepath.Join(p.Base, MasterCSVName) }
func (p Paths) PaymentsCSV() string { return filepath.Join(p.Base, PaymentsCSVName) }
func (p Paths) ManagementLog() string {
	return filepath.Join(p.Base, ManagementLogZip)
}

// EnsureDirs creates the upload folders if they are missing.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Base, p.Snapshots(), p.Payments()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Location loads the configured time zone, UTC when it cannot be resolved.
func Location(name string) *time.Location {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsExcludedAnalyst reports whether user is filtered out of analyst statistics.
func IsExcludedAnalyst(user string) bool {
	for _, u := range ExcludedAnalysts {
		if u == user {
			return true
		}
	}
	return false
}

// ToInt reads an integer out of a loosely typed services.yaml value.
func ToInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		var parsed int
		if _, err := fmt.Sscanf(t, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

// ToString reads a string out of a services.yaml value.
func ToString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ToDuration accepts "5s" style strings or a number of seconds.
func ToDuration(v interface{}, def time.Duration) time.Duration {
	switch t := v.(type) {
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
	case int:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t * float64(time.Second))
	}
	return def
}

// Section returns the string keyed value of cfg or def.
func Section(cfg map[string]interface{}, key, def string) string {
	if cfg == nil {
		return def
	}
	if v, ok := cfg[key]; ok && v != nil {
		if s := ToString(v); s != "" {
			return s
		}
	}
	return def
}
