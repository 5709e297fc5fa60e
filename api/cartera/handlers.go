package cartera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"CarteraDash/api"
	"CarteraDash/api/cartera/gestion"
	"CarteraDash/api/cartera/portafolio"
	"CarteraDash/api/cartera/presupuesto"
	"CarteraDash/api/constants"
	"CarteraDash/api/utils"
	"CarteraDash/internal/checksum"
	"CarteraDash/internal/config"
	"CarteraDash/internal/extract"
	"CarteraDash/internal/jobs"
	"CarteraDash/internal/logger"
	"CarteraDash/internal/metrics"
	"CarteraDash/internal/notification"
	"CarteraDash/internal/store"
)

const (
	defaultDetailLimit = 50
	defaultRunsLimit   = 20

	navGestion = "gestion"
	navUpload  = "upload"
)

type IndexPage struct {
	Page
	Vista  string
	Ciudad string
	Report *portafolio.Report
}

type DetallePage struct {
	Page
	Report *presupuesto.Report
}

type GestionPage struct {
	Page
	Analista     string
	FechaGestion string
	Report       *gestion.Report
	Detalle      []gestion.Detail
	Pagina       int
	Paginas      int
	Limite       int
}

type UploadPage struct {
	Page
	Mensajes   []string
	UltimoProy string
	UltimoPago string
	Notas      []notification.Notification
}

// Resumen is the combined payload of /api/resumen. Sections that fail to load are null.
type Resumen struct {
	Portafolio  *portafolio.Report  `json:"portafolio"`
	Presupuesto *presupuesto.Report `json:"presupuesto"`
	Gestion     *gestion.Report     `json:"gestion"`
	Archivos    map[string]string   `json:"archivos"`
}

func (d *Dashboard) loadPortafolio(ctx context.Context, vista, ciudad string) (*portafolio.Report, error) {
	return portafolio.Build(ctx, portafolio.Input{
		CarteraPath: d.Paths.MasterCSV(),
		PagosPath:   d.Paths.PaymentsCSV(),
		View:        vista,
		City:        ciudad,
	})
}

func (d *Dashboard) loadPresupuesto(ctx context.Context) (*presupuesto.Report, error) {
	return presupuesto.Build(ctx, presupuesto.Input{
		CarteraPath: d.Paths.MasterCSV(),
		PagosPath:   d.Paths.PaymentsCSV(),
		Now:         d.now(),
	})
}

func (d *Dashboard) loadGestion(ctx context.Context, analista string) (*gestion.Report, error) {
	return gestion.Calculate(ctx, gestion.Input{
		CarteraPath: d.Paths.MasterCSV(),
		GestionPath: d.Paths.ManagementLog(),
		PagosPath:   d.Paths.PaymentsCSV(),
		Analyst:     analista,
		Now:         d.now(),
	})
}

func (d *Dashboard) fileStamps() map[string]string {
	return map[string]string{
		KeyCartera: d.Files.FileStamp(KeyCartera),
		KeyPagos:   d.Files.FileStamp(KeyPagos),
		KeyGestion: d.Files.FileStamp(KeyGestion),
	}
}

// IndexHandler renders the portfolio composition, or the budget view for
// vista=detalle_analisis.
func IndexHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		vista := normalizeView(q.Get(constants.ParamVista))
		ciudad := q.Get(constants.ParamCiudad)
		if ciudad == "" {
			ciudad = config.AllCities
		}

		status := http.StatusOK
		if vista == portafolio.ViewPresupuesto {
			data := DetallePage{Page: d.page(vista)}
			rep, err := d.loadPresupuesto(r.Context())
			if err != nil {
				logger.L().Errorw("presupuesto view failed", "error", err)
				data.Error = constants.ErrCarteraUnavailable
				status = http.StatusInternalServerError
			}
			data.Report = rep
			d.render(w, status, pageDetalle, data)
			return
		}

		data := IndexPage{Page: d.page(vista), Vista: vista, Ciudad: ciudad}
		rep, err := d.loadPortafolio(r.Context(), vista, ciudad)
		if err != nil {
			logger.L().Errorw("portafolio view failed", "vista", vista, "ciudad", ciudad, "error", err)
			data.Error = constants.ErrCarteraUnavailable
			status = http.StatusInternalServerError
		}
		data.Report = rep
		d.render(w, status, pageIndex, data)
	}
}

// GestionHandler renders collector performance for one analyst or all of them.
func GestionHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analista := r.URL.Query().Get(constants.ParamAnalista)
		if analista == "" {
			analista = config.AllAnalysts
		}
		pg, err := utils.ExtractPagination(r, defaultDetailLimit)
		if err != nil {
			pg = utils.PaginationParams{Page: 1, Limit: defaultDetailLimit}
		}

		data := GestionPage{
			Page:         d.page(navGestion),
			Analista:     analista,
			FechaGestion: d.Files.FileStamp(KeyGestion),
			Pagina:       1,
			Paginas:      1,
			Limite:       pg.Limit,
		}
		status := http.StatusOK
		rep, err := d.loadGestion(r.Context(), analista)
		if err != nil {
			logger.L().Errorw("gestion view failed", "analista", analista, "error", err)
			data.Error = constants.ErrGestionUnavailable
			status = http.StatusInternalServerError
		} else {
			data.Report = rep
			data.Detalle, data.Paginas = gestion.Page(rep.Detalle, pg.Page, pg.Limit)
			data.Pagina = min(pg.Page, data.Paginas)
		}
		d.render(w, status, pageGestion, data)
	}
}

func (d *Dashboard) uploadPage(msgs ...string) UploadPage {
	p := UploadPage{
		Page:       d.page(navUpload),
		Mensajes:   msgs,
		UltimoProy: d.Files.LatestFile(KeyProyectados),
		UltimoPago: d.Files.LatestFile(KeyPagosDiarios),
	}
	if d.Runner.Notes != nil {
		p.Notas = d.Runner.Notes.GetNotifications()
	}
	return p
}

// UploadPageHandler shows the upload forms with the newest file of each folder.
func UploadPageHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Paths.EnsureDirs(); err != nil {
			logger.L().Errorw("upload folders not created", "error", err)
		}
		d.Files.Refresh()
		d.render(w, http.StatusOK, pageUpload, d.uploadPage())
	}
}

// UploadHandler stores file_pagos into the payments folder and file_proy into the
// snapshot folder. A new snapshot triggers the master consolidation right away.
func UploadHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			logger.L().Warnw("upload form unreadable", "error", err)
			d.render(w, http.StatusBadRequest, pageUpload, d.uploadPage(constants.ErrUploadForm))
			return
		}
		if err := d.Paths.EnsureDirs(); err != nil {
			logger.L().Errorw("upload folders not created", "error", err)
		}

		var msgs []string
		if f, hdr, err := r.FormFile(constants.FieldPagos); err == nil {
			msgs = append(msgs, d.receivePagos(f, hdr.Filename))
			f.Close()
		}
		if f, hdr, err := r.FormFile(constants.FieldProyectados); err == nil {
			// a closed tab must not abort the consolidation half way
			msgs = append(msgs, d.receiveProyectado(context.WithoutCancel(r.Context()), f, hdr.Filename))
			f.Close()
		}
		if len(msgs) == 0 {
			msgs = append(msgs, constants.ErrUploadEmpty)
		}
		d.Files.Refresh()

		if wantsJSON(r) {
			api.RespondWithPayload(w, true, "", map[string]interface{}{"mensajes": msgs})
			return
		}
		d.render(w, http.StatusOK, pageUpload, d.uploadPage(msgs...))
	}
}

func (d *Dashboard) receivePagos(src io.Reader, filename string) string {
	res, err := storeUpload(d.Paths.Payments(), filename, src, ".csv")
	if err != nil {
		return uploadFailed(config.PaymentsDir, filename, err)
	}
	if res.duplicate != "" {
		metrics.UploadsTotal.WithLabelValues(config.PaymentsDir, "duplicate").Inc()
		return constants.FormatUploadDuplicate(res.name, res.duplicate)
	}
	metrics.UploadsTotal.WithLabelValues(config.PaymentsDir, "saved").Inc()
	logger.Audit("payments file uploaded: %s", res.name)
	return fmt.Sprintf(constants.MsgPagosUploaded, res.name)
}

func (d *Dashboard) receiveProyectado(ctx context.Context, src io.Reader, filename string) string {
	res, err := storeUpload(d.Paths.Snapshots(), filename, src, extract.SupportedSnapshot...)
	if err != nil {
		return uploadFailed(config.SnapshotsDir, filename, err)
	}
	if res.duplicate != "" {
		metrics.UploadsTotal.WithLabelValues(config.SnapshotsDir, "duplicate").Inc()
		return constants.FormatUploadDuplicate(res.name, res.duplicate)
	}
	metrics.UploadsTotal.WithLabelValues(config.SnapshotsDir, "saved").Inc()
	logger.Audit("snapshot file uploaded: %s", res.name)

	out := d.Runner.RunMaestro(ctx)
	if !out.OK {
		return fmt.Sprintf(constants.MsgProyUploadedFailed, out.Message)
	}
	return fmt.Sprintf(constants.MsgProyUploaded, out.Message)
}

func uploadFailed(folder, filename string, err error) string {
	metrics.UploadsTotal.WithLabelValues(folder, "error").Inc()
	logger.L().Errorw("upload rejected", "folder", folder, "file", filename, "error", err)
	if errors.Is(err, extract.ErrUnsupportedFile) {
		return fmt.Sprintf(constants.ErrUploadUnsupported, filename)
	}
	return constants.ErrUploadSave
}

type uploadResult struct {
	name      string
	duplicate string
}

// storeUpload writes src into dir under the base name of filename, unless a file with
// the same content is already there; then duplicate names that file.
func storeUpload(dir, filename string, src io.Reader, exts ...string) (uploadResult, error) {
	name := safeName(filename)
	res := uploadResult{name: name}
	if name == "" || !extract.IsSupported(name, exts...) {
		return res, fmt.Errorf("%w: %q", extract.ErrUnsupportedFile, filename)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return res, fmt.Errorf("read upload: %w", err)
	}
	existing, ok, err := checksum.NewChecksumMatcher(dir).Match(data)
	if err != nil {
		return res, fmt.Errorf("fingerprint %s: %w", dir, err)
	}
	if ok {
		res.duplicate = existing
		return res, nil
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return res, fmt.Errorf("save %s: %w", name, err)
	}
	return res, nil
}

// safeName keeps only the last path element of a client supplied file name.
func safeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), constants.ContentTypeJSON)
}

// runMessage phrases an outcome the way the upload page has always shown it.
func runMessage(o jobs.Outcome) string {
	switch {
	case o.Kind == jobs.KindPagos && o.OK:
		return o.Message
	case o.Kind == jobs.KindPagos:
		return fmt.Sprintf(constants.MsgRunError, o.Message)
	case o.OK:
		return fmt.Sprintf(constants.MsgRunOK, o.Message)
	default:
		return fmt.Sprintf(constants.MsgRunFailed, o.Message)
	}
}

func (d *Dashboard) respondRuns(w http.ResponseWriter, r *http.Request, outs ...jobs.Outcome) {
	if wantsJSON(r) {
		ok, errMsg := true, ""
		for _, o := range outs {
			if !o.OK && ok {
				ok, errMsg = false, o.Message
			}
		}
		api.RespondWithPayload(w, ok, errMsg, outs)
		return
	}
	msgs := make([]string, 0, len(outs))
	for _, o := range outs {
		msgs = append(msgs, runMessage(o))
	}
	d.render(w, http.StatusOK, pageUpload, d.uploadPage(msgs...))
}

func RunMaestroHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := d.Runner.RunMaestro(context.WithoutCancel(r.Context()))
		d.respondRuns(w, r, out)
	}
}

func RunPagosHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := d.Runner.RunPagos(context.WithoutCancel(r.Context()))
		d.respondRuns(w, r, out)
	}
}

// RunScriptHandler consolidates payments and then the master.
func RunScriptHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outs := d.Runner.RunAll(context.WithoutCancel(r.Context()))
		d.respondRuns(w, r, outs...)
	}
}

func PortafolioAPIHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rep, err := d.loadPortafolio(r.Context(), q.Get(constants.ParamVista), q.Get(constants.ParamCiudad))
		if err != nil {
			logger.L().Errorw("portafolio api failed", "error", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrCarteraUnavailable)
			return
		}
		api.RespondWithPayload(w, true, "", rep)
	}
}

func PresupuestoAPIHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := d.loadPresupuesto(r.Context())
		if err != nil {
			logger.L().Errorw("presupuesto api failed", "error", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrCarteraUnavailable)
			return
		}
		api.RespondWithPayload(w, true, "", rep)
	}
}

// GestionAPIHandler returns the gestion report with one page of the client detail.
func GestionAPIHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, err := utils.ExtractPagination(r, defaultDetailLimit)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidPagination)
			return
		}
		rep, err := d.loadGestion(r.Context(), r.URL.Query().Get(constants.ParamAnalista))
		if err != nil {
			logger.L().Errorw("gestion api failed", "error", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrGestionUnavailable)
			return
		}
		out := *rep
		detalle, pages := gestion.Page(rep.Detalle, pg.Page, pg.Limit)
		if pg.Page > pages || len(detalle) == 0 {
			detalle = []gestion.Detail{}
		}
		out.Detalle = detalle
		pg.SetPaginationStats(len(rep.Detalle))
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"report":     out,
			"pagination": pg,
		})
	}
}

// RunsAPIHandler pages through the run ledger. Without a database it answers 503.
func RunsAPIHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Runs == nil {
			api.RespondWithError(w, http.StatusServiceUnavailable, constants.ErrLedgerDown)
			return
		}
		pg, err := utils.ExtractPagination(r, defaultRunsLimit)
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidPagination)
			return
		}

		var (
			runs  []store.Run
			total int
		)
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			var err error
			runs, err = d.Runs.ListRuns(ctx, pg.Limit, pg.Offset)
			return err
		})
		g.Go(func() error {
			var err error
			total, err = d.Runs.CountRuns(ctx)
			return err
		})
		if err := g.Wait(); err != nil {
			logger.L().Errorw("run ledger query failed", "error", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrLedgerDown)
			return
		}
		pg.SetPaginationStats(total)
		api.RespondWithRows(w, runs, pg)
	}
}

// ResumenAPIHandler loads the three dashboards concurrently. Only the portfolio is
// required; the budget and gestion sections are null when their sources fail.
func ResumenAPIHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := Resumen{Archivos: d.fileStamps()}
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			rep, err := d.loadPortafolio(ctx, portafolio.ViewCyres, config.AllCities)
			if err != nil {
				return err
			}
			res.Portafolio = rep
			return nil
		})
		g.Go(func() error {
			rep, err := d.loadPresupuesto(ctx)
			if err != nil {
				logger.L().Warnw("resumen without presupuesto", "error", err)
				return nil
			}
			res.Presupuesto = rep
			return nil
		})
		g.Go(func() error {
			rep, err := d.loadGestion(ctx, config.AllAnalysts)
			if err != nil {
				logger.L().Warnw("resumen without gestion", "error", err)
				return nil
			}
			res.Gestion = rep
			return nil
		})
		if err := g.Wait(); err != nil {
			logger.L().Errorw("resumen failed", "error", err)
			api.RespondWithError(w, http.StatusInternalServerError, constants.ErrCarteraUnavailable)
			return
		}
		api.RespondWithPayload(w, true, "", res)
	}
}

func HealthHandler(d *Dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.RespondWithPayload(w, true, "", map[string]interface{}{
			"status":      "ok",
			"time":        d.now().Format(time.RFC3339),
			"sse_clients": d.Events.GetClientCount(),
			"archivos":    d.fileStamps(),
		})
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	api.RespondWithError(w, http.StatusMethodNotAllowed, constants.ErrMethodNotAllowed)
}
