package cartera

import (
	"context"
	"html/template"
	"time"

	"CarteraDash/api/cartera/portafolio"
	"CarteraDash/internal/config"
	"CarteraDash/internal/dashboard"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/jobs"
	"CarteraDash/internal/resource"
	"CarteraDash/internal/store"
)

// Resource keys of the tracked source files and upload folders.
const (
	KeyCartera      = "cartera"
	KeyPagos        = "pagos"
	KeyGestion      = "gestion"
	KeyProyectados  = "proyectados"
	KeyPagosDiarios = "pagos_diarios"
)

// RunLister pages through the run ledger. *store.Store satisfies it.
type RunLister interface {
	ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error)
	CountRuns(ctx context.Context) (int, error)
}

// Dashboard is everything the HTTP handlers share.
type Dashboard struct {
	Paths    config.Paths
	Location *time.Location
	Runner   *jobs.Runner
	Files    *resource.ResourceManager
	Runs     RunLister
	Events   *dashboard.SSEServer
	Now      func() time.Time

	pages map[string]*template.Template
}

// NewDashboard wires the handlers' dependencies. files and events may be nil, in which
// case private instances are created.
func NewDashboard(paths config.Paths, loc *time.Location, runner *jobs.Runner,
	files *resource.ResourceManager, events *dashboard.SSEServer) (*Dashboard, error) {
	if loc == nil {
		loc = config.Location("")
	}
	if runner == nil {
		runner = jobs.NewRunner(paths, loc)
	}
	if files == nil {
		files = resource.NewResourceManager(config.DefaultHeartbeatInterval, loc)
	}
	if events == nil {
		events = dashboard.NewSSEServer(0)
	}
	pages, err := loadTemplates(loc)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		Paths:    paths,
		Location: loc,
		Runner:   runner,
		Files:    files,
		Events:   events,
		Now:      time.Now,
		pages:    pages,
	}
	d.track()
	return d, nil
}

func (d *Dashboard) track() {
	d.Files.Track(KeyCartera, d.Paths.MasterCSV())
	d.Files.Track(KeyPagos, d.Paths.PaymentsCSV())
	d.Files.Track(KeyGestion, d.Paths.ManagementLog())
	d.Files.TrackFolder(KeyProyectados, d.Paths.Snapshots(), extract.SupportedSnapshot...)
	d.Files.TrackFolder(KeyPagosDiarios, d.Paths.Payments(), ".csv")
}

func (d *Dashboard) now() time.Time {
	if d.Now == nil {
		return time.Now().In(d.Location)
	}
	return d.Now().In(d.Location)
}

func (d *Dashboard) page(nav string) Page {
	return Page{
		Nav:             nav,
		FechaProyectado: d.Files.FileStamp(KeyCartera),
		FechaPagos:      d.Files.FileStamp(KeyPagos),
	}
}

func normalizeView(v string) string {
	switch v {
	case portafolio.ViewCocaCola, portafolio.ViewPresupuesto:
		return v
	default:
		return portafolio.ViewCyres
	}
}
